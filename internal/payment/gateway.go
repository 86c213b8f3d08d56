package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

type CheckoutRequest struct {
	OrderCode   int64
	Amount      int64
	Description string
	ReturnURL   string
}

// Checkout is the gateway-side order the payer is sent to.
type Checkout struct {
	Ref string
	URL string
}

// Gateway is the external payment provider.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	// QueryStatus returns the provider's raw status code for the order.
	QueryStatus(ctx context.Context, orderCode int64, ref string) (string, error)
}

// OmiseGateway charges through an Omise PromptPay source.
type OmiseGateway struct {
	publicKey string
	secretKey string
	currency  string
}

func NewOmiseGateway(publicKey, secretKey, currency string) (*OmiseGateway, error) {
	if _, err := omise.NewClient(publicKey, secretKey); err != nil {
		return nil, fmt.Errorf("create omise client: %w", err)
	}
	return &OmiseGateway{publicKey: publicKey, secretKey: secretKey, currency: currency}, nil
}

// client returns a client bound to ctx. The SDK keeps the context on the client,
// so concurrent calls each get their own.
func (g *OmiseGateway) client(ctx context.Context) (*omise.Client, error) {
	client, err := omise.NewClient(g.publicKey, g.secretKey)
	if err != nil {
		return nil, err
	}
	client.WithContext(ctx)
	return client, nil
}

func (g *OmiseGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	client, err := g.client(ctx)
	if err != nil {
		return nil, err
	}

	source := &omise.Source{}
	if err := client.Do(source, &operations.CreateSource{
		Type:     "promptpay",
		Amount:   req.Amount,
		Currency: g.currency,
	}); err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	charge := &omise.Charge{}
	if err := client.Do(charge, &operations.CreateCharge{
		Amount:      req.Amount,
		Currency:    g.currency,
		Source:      source.ID,
		Description: req.Description,
		ReturnURI:   req.ReturnURL,
		Metadata:    map[string]any{"order_code": strconv.FormatInt(req.OrderCode, 10)},
	}); err != nil {
		return nil, fmt.Errorf("create charge: %w", err)
	}

	return &Checkout{Ref: charge.ID, URL: charge.AuthorizeURI}, nil
}

func (g *OmiseGateway) QueryStatus(ctx context.Context, _ int64, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("order has no charge reference")
	}
	client, err := g.client(ctx)
	if err != nil {
		return "", err
	}
	charge := &omise.Charge{}
	if err := client.Do(charge, &operations.RetrieveCharge{ChargeID: ref}); err != nil {
		return "", fmt.Errorf("retrieve charge %s: %w", ref, err)
	}
	return string(charge.Status), nil
}

// SandboxGateway is an in-process gateway for development and tests.
type SandboxGateway struct {
	mu       sync.Mutex
	baseURL  string
	statuses map[int64]string
	err      error
}

func NewSandboxGateway(baseURL string) *SandboxGateway {
	return &SandboxGateway{baseURL: baseURL, statuses: make(map[int64]string)}
}

func (g *SandboxGateway) CreateCheckout(_ context.Context, req CheckoutRequest) (*Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return nil, g.err
	}
	g.statuses[req.OrderCode] = "PENDING"

	ref := "sandbox_" + strconv.FormatInt(req.OrderCode, 10)
	q := url.Values{"order_code": {strconv.FormatInt(req.OrderCode, 10)}, "ref": {ref}}
	return &Checkout{Ref: ref, URL: g.baseURL + "?" + q.Encode()}, nil
}

func (g *SandboxGateway) QueryStatus(_ context.Context, orderCode int64, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return "", g.err
	}
	status, ok := g.statuses[orderCode]
	if !ok {
		return "", fmt.Errorf("sandbox: unknown order %d", orderCode)
	}
	return status, nil
}

// MarkPaid makes the order report PAID.
func (g *SandboxGateway) MarkPaid(orderCode int64) {
	g.SetStatus(orderCode, "PAID")
}

func (g *SandboxGateway) SetStatus(orderCode int64, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[orderCode] = status
}

// SetError makes every call fail with err until it is reset with nil.
func (g *SandboxGateway) SetError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}
