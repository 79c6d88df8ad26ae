package gateway

import (
	"encoding/json"
	"fmt"

	"plazaviva.org/internal/order"
)

// Inbound event names accepted over the websocket.
const (
	evVendorConnect     = "vendor_connect"
	evVendorDisconnect  = "vendor_disconnect"
	evUpdateLocation    = "update_location"
	evGetNearbyVendors  = "get_nearby_vendors"
	evNewOrder          = "new_order"
	evOrderStatusUpdate = "order_status_update"
)

// Outbound event names the gateway itself emits; the services emit the rest.
const (
	evNearbyVendors = "nearby_vendors"
	evError         = "error"
)

// envelope is the wire shape of every inbound message.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// inbound is the closed set of client-originated messages. Decoding picks the
// concrete variant; the dispatch switch in the gateway is exhaustive over it.
type inbound interface {
	isInbound()
}

type vendorConnectMsg struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type vendorDisconnectMsg struct{}

type updateLocationMsg struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type getNearbyVendorsMsg struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Radius    float64  `json:"radius"`
}

type newOrderMsg struct {
	VendorID      string            `json:"vendorId"`
	Items         []order.ItemInput `json:"items"`
	PaymentMethod string            `json:"paymentMethod"`
	DeliveryNotes string            `json:"deliveryNotes"`

	// Client-supplied bookkeeping; the server recomputes or reassigns these.
	ID        string `json:"id"`
	Total     int64  `json:"total"`
	Timestamp string `json:"timestamp"`
}

type orderStatusUpdateMsg struct {
	OrderID  string `json:"orderId"`
	Status   string `json:"status"`
	ClientID string `json:"clientId"`
}

func (vendorConnectMsg) isInbound()     {}
func (vendorDisconnectMsg) isInbound()  {}
func (updateLocationMsg) isInbound()    {}
func (getNearbyVendorsMsg) isInbound()  {}
func (newOrderMsg) isInbound()          {}
func (orderStatusUpdateMsg) isInbound() {}

// decodeInbound parses the envelope and its typed payload. Unknown event
// names are rejected here, at the single entry point.
func decodeInbound(data []byte) (inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	unmarshal := func(dst any) error {
		if len(env.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(env.Payload, dst); err != nil {
			return fmt.Errorf("malformed %s payload: %w", env.Event, err)
		}
		return nil
	}

	switch env.Event {
	case evVendorConnect:
		var msg vendorConnectMsg
		if err := unmarshal(&msg); err != nil {
			return nil, err
		}
		return msg, nil
	case evVendorDisconnect:
		return vendorDisconnectMsg{}, nil
	case evUpdateLocation:
		var msg updateLocationMsg
		if err := unmarshal(&msg); err != nil {
			return nil, err
		}
		return msg, nil
	case evGetNearbyVendors:
		var msg getNearbyVendorsMsg
		if err := unmarshal(&msg); err != nil {
			return nil, err
		}
		return msg, nil
	case evNewOrder:
		var msg newOrderMsg
		if err := unmarshal(&msg); err != nil {
			return nil, err
		}
		return msg, nil
	case evOrderStatusUpdate:
		var msg orderStatusUpdateMsg
		if err := unmarshal(&msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("unknown event: %q", env.Event)
	}
}

// eventName reports the wire name of a decoded message, for metrics.
func eventName(msg inbound) string {
	switch msg.(type) {
	case vendorConnectMsg:
		return evVendorConnect
	case vendorDisconnectMsg:
		return evVendorDisconnect
	case updateLocationMsg:
		return evUpdateLocation
	case getNearbyVendorsMsg:
		return evGetNearbyVendors
	case newOrderMsg:
		return evNewOrder
	case orderStatusUpdateMsg:
		return evOrderStatusUpdate
	default:
		return "unknown"
	}
}
