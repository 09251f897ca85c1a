package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wfunc/gamerelay/models"
)

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// Machine 单个游戏类型的线性状态机
type Machine struct {
	kind        models.GameKind
	transitions map[models.Status]map[models.Status]struct{} // from -> to
	mutex       sync.RWMutex
}

func NewMachine(kind models.GameKind) *Machine {
	return &Machine{
		kind:        kind,
		transitions: make(map[models.Status]map[models.Status]struct{}),
	}
}

// AddTransition registers from -> to. Edges must move forward.
func (m *Machine) AddTransition(from, to models.Status) error {
	if to <= from {
		return fmt.Errorf("%w: %s -> %s is not forward", ErrTransitionNotAllowed, from, to)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.transitions[from]; !exists {
		m.transitions[from] = make(map[models.Status]struct{})
	}
	m.transitions[from][to] = struct{}{}
	return nil
}

// CanTransition reports whether from -> to is an edge of the machine.
func (m *Machine) CanTransition(from, to models.Status) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if targets, exists := m.transitions[from]; exists {
		if _, ok := targets[to]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrTransitionNotAllowed, m.kind, from, to)
}

// Terminal reports whether no edge leaves s.
func (m *Machine) Terminal(s models.Status) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.transitions[s]) == 0
}

func (m *Machine) Kind() models.GameKind {
	return m.kind
}

var machines = map[models.GameKind]*Machine{
	models.KindCoinFlip:          mustMachine(models.KindCoinFlip, models.StatusPending, models.StatusResolved),
	models.KindRockPaperScissors: mustMachine(models.KindRockPaperScissors, models.StatusPending, models.StatusResolved),
	models.KindNumberGuess: mustMachine(models.KindNumberGuess,
		models.StatusPending, models.StatusReady, models.StatusGuessed, models.StatusResolved),
}

func mustMachine(kind models.GameKind, path ...models.Status) *Machine {
	m := NewMachine(kind)
	for i := 0; i+1 < len(path); i++ {
		if err := m.AddTransition(path[i], path[i+1]); err != nil {
			panic(err)
		}
	}
	return m
}

// For returns the machine of kind, or nil for an unknown kind.
func For(kind models.GameKind) *Machine {
	return machines[kind]
}

// Check validates a transition for kind.
func Check(kind models.GameKind, from, to models.Status) error {
	m := For(kind)
	if m == nil {
		return fmt.Errorf("%w: unknown game kind %s", ErrTransitionNotAllowed, kind)
	}
	return m.CanTransition(from, to)
}
