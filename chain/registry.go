package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var ErrDuplicateRoute = errors.New("handler already registered")

// Handler processes one decoded event. Returned errors are logged by the
// watcher; they never stop watching.
type Handler func(ctx context.Context, ev ChainEvent) error

// Route identifies what a handler listens to.
type Route struct {
	Chain    string
	Contract common.Address
	Event    string
}

// Key is the checkpoint key of the route.
func (r Route) Key() string {
	return fmt.Sprintf("%s/%s/%s", r.Chain, strings.ToLower(r.Contract.Hex()), r.Event)
}

type Subscription struct {
	Route
	ABI     *abi.ABI
	Handler Handler
}

// Query filters on the contract address and the event signature topic.
func (s Subscription) Query() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{s.Contract},
		Topics:    [][]common.Hash{{s.ABI.Events[s.Event].ID}},
	}
}

// Registry maps (chain, contract, event) to exactly one handler.
type Registry struct {
	subs  map[Route]Subscription
	order []Route
	mutex sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[Route]Subscription)}
}

func (r *Registry) Register(chainName string, contract common.Address, contractABI *abi.ABI, event string, handler Handler) error {
	if _, ok := contractABI.Events[event]; !ok {
		return fmt.Errorf("%w: event %s not in abi", ErrDecode, event)
	}
	route := Route{Chain: chainName, Contract: contract, Event: event}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.subs[route]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRoute, route.Key())
	}
	r.subs[route] = Subscription{Route: route, ABI: contractABI, Handler: handler}
	r.order = append(r.order, route)
	return nil
}

// Subscriptions returns the routes of chainName in registration order.
func (r *Registry) Subscriptions(chainName string) []Subscription {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var out []Subscription
	for _, route := range r.order {
		if route.Chain == chainName {
			out = append(out, r.subs[route])
		}
	}
	return out
}

func (r *Registry) Lookup(route Route) (Subscription, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	sub, ok := r.subs[route]
	return sub, ok
}
