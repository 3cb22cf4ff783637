package downstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Fake implementa todos los puertos en memoria. Cuenta las llamadas para que
// los tests puedan afirmar que el core no fue invocado.
type Fake struct {
	mu       sync.Mutex
	accounts map[string]map[string]json.RawMessage // customer → id → account
	cards    map[string]map[string]json.RawMessage
	payments map[string]PaymentStatus
	contacts map[string]string // customer|channel → target
	funds    bool

	// Notifications recibe cada notificación enviada (si no es nil).
	Notifications chan Notification
	// Err, si no es nil, lo devuelven todas las operaciones.
	Err error

	calls atomic.Int64
}

func NewFake() *Fake {
	return &Fake{
		accounts: map[string]map[string]json.RawMessage{},
		cards:    map[string]map[string]json.RawMessage{},
		payments: map[string]PaymentStatus{},
		contacts: map[string]string{},
		funds:    true,
	}
}

func (f *Fake) Services() Services {
	return Services{Accounts: f, Cards: f, Payments: f, Funds: f, Directory: f, Notifier: f}
}

// Calls devuelve la cantidad de llamadas a puertos bancarios (no directorio
// ni notificaciones).
func (f *Fake) Calls() int64 { return f.calls.Load() }

func (f *Fake) AddAccount(customerID, accountID string, body any) {
	f.add(f.accounts, customerID, accountID, body)
}

func (f *Fake) AddCard(customerID, cardID string, body any) {
	f.add(f.cards, customerID, cardID, body)
}

func (f *Fake) SetContact(customerID, channel, target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts[customerID+"|"+channel] = target
}

func (f *Fake) SetFundsAvailable(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funds = ok
}

func (f *Fake) add(m map[string]map[string]json.RawMessage, customerID, id string, body any) {
	b, _ := json.Marshal(body)
	f.mu.Lock()
	defer f.mu.Unlock()
	if m[customerID] == nil {
		m[customerID] = map[string]json.RawMessage{}
	}
	m[customerID][id] = b
}

func (f *Fake) list(m map[string]map[string]json.RawMessage, customerID string) (json.RawMessage, error) {
	f.calls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	items := make([]json.RawMessage, 0, len(m[customerID]))
	for _, v := range m[customerID] {
		items = append(items, v)
	}
	f.mu.Unlock()
	return json.Marshal(items)
}

func (f *Fake) get(m map[string]map[string]json.RawMessage, customerID, id string) (json.RawMessage, error) {
	f.calls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := m[customerID][id]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (f *Fake) sub(m map[string]map[string]json.RawMessage, customerID, id, kind string) (json.RawMessage, error) {
	if _, err := f.get(m, customerID, id); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"resourceId": id, kind: []any{}})
}

func (f *Fake) ListAccounts(_ context.Context, c string) (json.RawMessage, error) {
	return f.list(f.accounts, c)
}

func (f *Fake) GetAccount(_ context.Context, c, id string) (json.RawMessage, error) {
	return f.get(f.accounts, c, id)
}

func (f *Fake) GetBalances(_ context.Context, c, id string) (json.RawMessage, error) {
	return f.sub(f.accounts, c, id, "balances")
}

func (f *Fake) GetTransactions(_ context.Context, c, id string, _ url.Values) (json.RawMessage, error) {
	return f.sub(f.accounts, c, id, "transactions")
}

func (f *Fake) ListCards(_ context.Context, c string) (json.RawMessage, error) {
	return f.list(f.cards, c)
}

func (f *Fake) GetCard(_ context.Context, c, id string) (json.RawMessage, error) {
	return f.get(f.cards, c, id)
}

func (f *Fake) GetCardBalances(_ context.Context, c, id string) (json.RawMessage, error) {
	return f.sub(f.cards, c, id, "balances")
}

func (f *Fake) GetCardTransactions(_ context.Context, c, id string, _ url.Values) (json.RawMessage, error) {
	return f.sub(f.cards, c, id, "transactions")
}

func (f *Fake) InitiatePayment(_ context.Context, customerID string, _ PaymentRequest) (*PaymentStatus, error) {
	f.calls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}
	st := PaymentStatus{PaymentID: uuid.NewString(), TransactionStatus: "RCVD"}
	f.mu.Lock()
	f.payments[customerID+"|"+st.PaymentID] = st
	f.mu.Unlock()
	return &st, nil
}

func (f *Fake) GetPaymentStatus(_ context.Context, customerID, paymentID string) (*PaymentStatus, error) {
	f.calls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.payments[customerID+"|"+paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (f *Fake) ConfirmFunds(_ context.Context, _ string, _ FundsRequest) (*FundsResult, error) {
	f.calls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &FundsResult{FundsAvailable: f.funds}, nil
}

func (f *Fake) Contact(_ context.Context, customerID, channel string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.contacts[customerID+"|"+channel]
	if !ok {
		return "", fmt.Errorf("%w: no %s contact for customer", ErrNotFound, channel)
	}
	return t, nil
}

func (f *Fake) Notify(_ context.Context, n Notification) error {
	if f.Notifications != nil {
		f.Notifications <- n
	}
	return nil
}
