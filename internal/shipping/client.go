package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ramanifashion/order-engine/internal/domain"
)

// Client is a thin adapter around the Shiprocket external API: create a
// carrier order, assign an AWB to its shipment, and schedule pickup.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, token: token, httpClient: httpClient}
}

type ShipmentItem struct {
	Name  string `json:"name"`
	SKU   string `json:"sku"`
	Units int    `json:"units"`
	Price int64  `json:"selling_price"`
}

// ShipmentRequest is the carrier's create-order payload, built from the
// order's snapshot plus computed package weight and dimensions.
type ShipmentRequest struct {
	OrderNumber     string         `json:"order_id"`
	PickupLocation  string         `json:"pickup_location"`
	PaymentMethod   string         `json:"payment_method"`
	Subtotal        int64          `json:"sub_total"`
	CustomerName    string         `json:"billing_customer_name"`
	Phone           string         `json:"billing_phone"`
	Email           string         `json:"billing_email"`
	AddressLine1    string         `json:"billing_address"`
	AddressLine2    string         `json:"billing_address_2,omitempty"`
	City            string         `json:"billing_city"`
	State           string         `json:"billing_state"`
	PostalCode      string         `json:"billing_pincode"`
	Country         string         `json:"billing_country"`
	Items           []ShipmentItem `json:"order_items"`
	WeightKG        float64        `json:"weight"`
	LengthCM        int            `json:"length"`
	BreadthCM       int            `json:"breadth"`
	HeightCM        int            `json:"height"`
}

type ShipmentResult struct {
	CarrierOrderID int64 `json:"order_id"`
	ShipmentID     int64 `json:"shipment_id"`
}

// CreateOrder registers the order with the carrier. This is the one carrier
// call whose failure the dispatch caller sees.
func (c *Client) CreateOrder(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	var result ShipmentResult
	if err := c.do(ctx, "/v1/external/orders/create/adhoc", req, &result); err != nil {
		return nil, &domain.UpstreamError{System: "shiprocket", Op: "create-order", Err: err}
	}
	if result.ShipmentID == 0 {
		return nil, &domain.UpstreamError{System: "shiprocket", Op: "create-order",
			Err: fmt.Errorf("response missing shipment id")}
	}
	return &result, nil
}

type AWBResult struct {
	AwbCode     string `json:"awb_code"`
	CourierID   int64  `json:"courier_company_id"`
	CourierName string `json:"courier_name"`
	LabelURL    string `json:"label_url"`
}

// AssignAWB requests tracking-number assignment for a shipment.
func (c *Client) AssignAWB(ctx context.Context, shipmentID int64) (*AWBResult, error) {
	req := map[string]int64{"shipment_id": shipmentID}

	var envelope struct {
		Response struct {
			Data AWBResult `json:"data"`
		} `json:"response"`
	}
	if err := c.do(ctx, "/v1/external/courier/assign/awb", req, &envelope); err != nil {
		return nil, &domain.UpstreamError{System: "shiprocket", Op: "assign-awb", Err: err}
	}
	if envelope.Response.Data.AwbCode == "" {
		return nil, &domain.UpstreamError{System: "shiprocket", Op: "assign-awb",
			Err: fmt.Errorf("response missing awb code")}
	}
	return &envelope.Response.Data, nil
}

// SchedulePickup asks the carrier to pick the shipment up.
func (c *Client) SchedulePickup(ctx context.Context, shipmentID int64) error {
	req := map[string][]int64{"shipment_id": {shipmentID}}
	var ack json.RawMessage
	if err := c.do(ctx, "/v1/external/courier/generate/pickup", req, &ack); err != nil {
		return &domain.UpstreamError{System: "shiprocket", Op: "schedule-pickup", Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("carrier returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
