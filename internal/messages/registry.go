package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrUnregisteredSubject = errors.New("subject has no registered contract")
	ErrContractMismatch    = errors.New("payload type does not match the subject contract")
)

// Default is the process-wide contract registry. Every event type declared in
// this package is registered at init.
var Default = NewRegistry()

func init() {
	MustRegister[TicketCreatedEvent](Default)
	MustRegister[TicketUpdatedEvent](Default)
}

// Contract associates a subject with the single payload shape it carries.
type Contract struct {
	Subject  Subject
	TypeName string
	Type     reflect.Type
	Fields   []FieldSchema

	schema *jsonschema.Schema
}

// Registry maps subjects to contracts.
type Registry struct {
	mu        sync.RWMutex
	contracts map[Subject]*Contract
}

func NewRegistry() *Registry {
	return &Registry{contracts: make(map[Subject]*Contract)}
}

// SubjectOf returns the subject bound to the event type E.
func SubjectOf[E Event]() Subject {
	return zeroEvent[E]().Subject()
}

func zeroEvent[E Event]() E {
	var zero E
	t := reflect.TypeFor[E]()
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(E)
	}
	return zero
}

// Register records the contract of E. Registering the same type twice is a
// no-op; registering a second type for an existing subject fails.
func Register[E Event](r *Registry) error {
	t := reflect.TypeFor[E]()
	subject := SubjectOf[E]()
	if subject == "" {
		return fmt.Errorf("register %s: empty subject", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.contracts[subject]; ok {
		if existing.Type == t {
			return nil
		}
		return fmt.Errorf("register %s on %q: already bound to %s: %w", t, subject, existing.Type, ErrContractMismatch)
	}

	fields := extractFieldSchemas(t)
	schema, err := compileSchema(subject, fields)
	if err != nil {
		return fmt.Errorf("register %s: %w", t, err)
	}

	name := t.Name()
	if t.Kind() == reflect.Pointer {
		name = t.Elem().Name()
	}
	r.contracts[subject] = &Contract{
		Subject:  subject,
		TypeName: name,
		Type:     t,
		Fields:   fields,
		schema:   schema,
	}
	return nil
}

// MustRegister is Register for package init; it panics on conflict.
func MustRegister[E Event](r *Registry) {
	if err := Register[E](r); err != nil {
		panic(err)
	}
}

// Check reports whether E is the payload type registered for its subject.
func Check[E Event](r *Registry) error {
	subject := SubjectOf[E]()
	c, ok := r.Lookup(subject)
	if !ok {
		return fmt.Errorf("%q: %w", subject, ErrUnregisteredSubject)
	}
	if t := reflect.TypeFor[E](); c.Type != t {
		return fmt.Errorf("%q carries %s, not %s: %w", subject, c.Type, t, ErrContractMismatch)
	}
	return nil
}

// Lookup returns the contract for subject.
func (r *Registry) Lookup(subject Subject) (Contract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[subject]
	if !ok {
		return Contract{}, false
	}
	return *c, true
}

// Contracts returns all contracts ordered by subject.
func (r *Registry) Contracts() []Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contract, 0, len(r.contracts))
	for _, c := range r.contracts {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b Contract) int {
		switch {
		case a.Subject < b.Subject:
			return -1
		case a.Subject > b.Subject:
			return 1
		}
		return 0
	})
	return out
}

// Subjects returns the registered subjects in order.
func (r *Registry) Subjects() []Subject {
	contracts := r.Contracts()
	out := make([]Subject, len(contracts))
	for i, c := range contracts {
		out[i] = c.Subject
	}
	return out
}

// Validate checks encoded payload bytes against the subject's schema.
func (r *Registry) Validate(subject Subject, data []byte) error {
	c, ok := r.Lookup(subject)
	if !ok {
		return fmt.Errorf("%q: %w", subject, ErrUnregisteredSubject)
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%q: %w", subject, err)
	}
	if err := c.schema.Validate(v); err != nil {
		return fmt.Errorf("%q schema violation: %w", subject, err)
	}
	return nil
}

var schemaFileName = strings.NewReplacer(":", "-", "/", "-", " ", "-")

func compileSchema(subject Subject, fields []FieldSchema) (*jsonschema.Schema, error) {
	doc, err := json.Marshal(jsonSchemaDocument(string(subject), fields))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	url := "mem://contracts/" + schemaFileName.Replace(string(subject)) + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
