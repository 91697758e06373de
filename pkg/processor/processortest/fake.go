// Package processortest provides an in-memory processor.Gateway for tests.
package processortest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/processor"
)

// Fake records calls and returns scripted results. Zero value is usable.
type Fake struct {
	mu sync.Mutex

	Sessions map[string]*processor.Session
	Accounts map[string]*processor.AccountState

	CreateSessionErr error
	GetSessionErr    error
	TransferErr      error
	AccountErr       error
	RefundErr        error

	SessionInputs  []processor.CreateSessionInput
	TransferInputs []processor.TransferInput
	RefundInputs   []processor.RefundInput
	LinkRequests   []string

	seq int
}

func (f *Fake) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *Fake) CreateCheckoutSession(_ context.Context, in processor.CreateSessionInput) (*processor.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SessionInputs = append(f.SessionInputs, in)
	if f.CreateSessionErr != nil {
		return nil, f.CreateSessionErr
	}
	if f.Sessions == nil {
		f.Sessions = map[string]*processor.Session{}
	}
	id := f.next("cs_test")
	session := &processor.Session{
		ID:          id,
		URL:         "https://checkout.example.test/" + id,
		State:       processor.SessionOpen,
		AmountCents: chargedAmount(in),
		Currency:    in.Currency,
	}
	f.Sessions[id] = session
	copied := *session
	return &copied, nil
}

// chargedAmount is what a processor would charge for the lines it was sent,
// so a caller that drops shipping or discount sees the mismatch.
func chargedAmount(in processor.CreateSessionInput) int64 {
	total := in.ShippingCents - in.DiscountCents
	for _, line := range in.Lines {
		total += line.UnitPriceCents * int64(line.Quantity)
	}
	return total
}

func (f *Fake) GetCheckoutSession(_ context.Context, sessionID string) (*processor.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetSessionErr != nil {
		return nil, f.GetSessionErr
	}
	session, ok := f.Sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	copied := *session
	return &copied, nil
}

// SettleSession marks a previously created session as settled.
func (f *Fake) SettleSession(sessionID string, state processor.SessionState, paymentRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.Sessions[sessionID]; ok {
		session.State = state
		session.PaymentReference = paymentRef
	}
}

func (f *Fake) CreateTransfer(_ context.Context, in processor.TransferInput) (*processor.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TransferInputs = append(f.TransferInputs, in)
	if f.TransferErr != nil {
		return nil, f.TransferErr
	}
	return &processor.Transfer{ID: f.next("tr_test")}, nil
}

func (f *Fake) CreateConnectedAccount(_ context.Context, _ uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AccountErr != nil {
		return "", f.AccountErr
	}
	if f.Accounts == nil {
		f.Accounts = map[string]*processor.AccountState{}
	}
	id := f.next("acct_test")
	f.Accounts[id] = &processor.AccountState{ID: id}
	return id, nil
}

func (f *Fake) GetAccount(_ context.Context, accountID string) (*processor.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	state, ok := f.Accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s not found", accountID)
	}
	copied := *state
	return &copied, nil
}

func (f *Fake) CreateOnboardingLink(_ context.Context, accountID, _, _ string) (*processor.OnboardingLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LinkRequests = append(f.LinkRequests, accountID)
	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	return &processor.OnboardingLink{
		URL:       "https://connect.example.test/setup/" + accountID,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}, nil
}

func (f *Fake) Refund(_ context.Context, in processor.RefundInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefundInputs = append(f.RefundInputs, in)
	if f.RefundErr != nil {
		return "", f.RefundErr
	}
	return f.next("re_test"), nil
}

// TransferCount returns how many transfers were requested.
func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.TransferInputs)
}

// SetAccount scripts the processor-side state of a connected account.
func (f *Fake) SetAccount(state processor.AccountState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Accounts == nil {
		f.Accounts = map[string]*processor.AccountState{}
	}
	copied := state
	f.Accounts[state.ID] = &copied
}
