// Package gatewaytest provides an in-memory charge gateway for tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/smallbiznis/marketledger/internal/apperror"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
)

// Gateway records every call. Charges succeed immediately unless Status or
// Err say otherwise.
type Gateway struct {
	mu sync.Mutex

	Status    paymentdomain.ChargeStatus
	Err       error
	RefundErr error

	Charges  []paymentdomain.ChargeRequest
	Refunds  []paymentdomain.RefundRequest
	Confirms []string

	statuses map[string]paymentdomain.ChargeStatus
}

func New() *Gateway {
	return &Gateway{
		Status:   paymentdomain.ChargeRequiresAction,
		statuses: map[string]paymentdomain.ChargeStatus{},
	}
}

func (g *Gateway) Provider() string { return "fake" }

func (g *Gateway) CreateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Charges = append(g.Charges, req)
	if g.Err != nil {
		return nil, apperror.Wrap(paymentdomain.ErrGatewayFailure, "fake.create_charge", g.Err)
	}
	ref := "ch_" + req.Reference
	g.statuses[ref] = paymentdomain.ChargePending
	return &paymentdomain.Charge{
		Ref:         ref,
		Status:      g.Status,
		RedirectURL: "https://pay.example.test/" + ref,
	}, nil
}

// Settle sets the status ConfirmCharge reports for ref.
func (g *Gateway) Settle(ref string, status paymentdomain.ChargeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[ref] = status
}

func (g *Gateway) ConfirmCharge(ctx context.Context, chargeRef string) (paymentdomain.ChargeStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Confirms = append(g.Confirms, chargeRef)
	status, ok := g.statuses[chargeRef]
	if !ok {
		return paymentdomain.ChargePending, nil
	}
	return status, nil
}

func (g *Gateway) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RefundErr != nil {
		return nil, apperror.Wrap(paymentdomain.ErrGatewayFailure, "fake.refund", g.RefundErr)
	}
	g.Refunds = append(g.Refunds, req)
	return &paymentdomain.RefundResult{ChargeRef: req.ChargeRef, RefundRef: req.Key, Amount: req.Amount}, nil
}
