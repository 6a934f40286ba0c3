package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// OpKind identifies one builder operation recorded during assembly.
type OpKind string

const (
	OpKindLiteral  OpKind = "literal"
	OpKindObject   OpKind = "object"
	OpKindSplit    OpKind = "split"
	OpKindMerge    OpKind = "merge"
	OpKindCall     OpKind = "call"
	OpKindTransfer OpKind = "transfer"
	OpKindMarker   OpKind = "marker"
)

// Operation is one recorded builder step. Fields are used depending on Kind.
type Operation struct {
	Kind     OpKind   `json:"kind"`
	Name     string   `json:"name,omitempty"`
	Type     string   `json:"type,omitempty"`
	Value    string   `json:"value,omitempty"`
	Source   string   `json:"source,omitempty"`
	Sources  []string `json:"sources,omitempty"`
	Amounts  []string `json:"amounts,omitempty"`
	Target   string   `json:"target,omitempty"`
	TypeArgs []string `json:"type_args,omitempty"`
	Args     []string `json:"args,omitempty"`
	Label    string   `json:"label,omitempty"`
}

// Builder accumulates ledger operations during script assembly. All mutation
// stays inside the builder; nothing reaches the chain until the finished plan
// is handed to a submission client.
type Builder struct {
	ops      []Operation
	bindings map[string]struct{}
}

// NewBuilder returns an empty builder. The gas balance is pre-bound so
// scripts can split payment amounts from it.
func NewBuilder() *Builder {
	return &Builder{
		bindings: map[string]struct{}{"gas": {}},
	}
}

func (b *Builder) bind(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("binding name must not be empty")
	}
	if _, exists := b.bindings[name]; exists {
		return fmt.Errorf("binding %q already defined", name)
	}
	b.bindings[name] = struct{}{}
	return nil
}

// IsBound reports whether name refers to an earlier builder result.
func (b *Builder) IsBound(name string) bool {
	_, ok := b.bindings[name]
	return ok
}

// PutLiteral records a typed literal and binds it to name.
func (b *Builder) PutLiteral(name, typ, value string) error {
	if err := b.bind(name); err != nil {
		return err
	}
	b.ops = append(b.ops, Operation{Kind: OpKindLiteral, Name: name, Type: typ, Value: value})
	return nil
}

// RefObject records a reference to an existing on-ledger object.
func (b *Builder) RefObject(name, objectID string) error {
	if strings.TrimSpace(objectID) == "" {
		return errors.New("object id must not be empty")
	}
	if err := b.bind(name); err != nil {
		return err
	}
	b.ops = append(b.ops, Operation{Kind: OpKindObject, Name: name, Value: objectID})
	return nil
}

// SplitBalance splits amounts out of a bound balance and binds the result.
func (b *Builder) SplitBalance(name, source string, amounts []string) error {
	if !b.IsBound(source) {
		return fmt.Errorf("split source %q is not bound", source)
	}
	if len(amounts) == 0 {
		return errors.New("split requires at least one amount")
	}
	if err := b.bind(name); err != nil {
		return err
	}
	b.ops = append(b.ops, Operation{Kind: OpKindSplit, Name: name, Source: source, Amounts: append([]string(nil), amounts...)})
	return nil
}

// MergeBalances merges bound source balances into a bound target balance.
func (b *Builder) MergeBalances(target string, sources []string) error {
	if !b.IsBound(target) {
		return fmt.Errorf("merge target %q is not bound", target)
	}
	if len(sources) == 0 {
		return errors.New("merge requires at least one source")
	}
	for _, src := range sources {
		if !b.IsBound(src) {
			return fmt.Errorf("merge source %q is not bound", src)
		}
	}
	b.ops = append(b.ops, Operation{Kind: OpKindMerge, Target: target, Sources: append([]string(nil), sources...)})
	return nil
}

// CallEntry records a contract entry-point invocation. When name is non-empty
// the call result becomes a new binding usable by later operations.
func (b *Builder) CallEntry(name, target string, typeArgs, args []string) error {
	if strings.TrimSpace(target) == "" {
		return errors.New("call target must not be empty")
	}
	if name != "" {
		if err := b.bind(name); err != nil {
			return err
		}
	}
	b.ops = append(b.ops, Operation{
		Kind:     OpKindCall,
		Name:     name,
		Target:   target,
		TypeArgs: append([]string(nil), typeArgs...),
		Args:     append([]string(nil), args...),
	})
	return nil
}

// TransferObjects transfers bound objects or balances to a recipient address.
func (b *Builder) TransferObjects(sources []string, recipient string) error {
	if strings.TrimSpace(recipient) == "" {
		return errors.New("transfer recipient must not be empty")
	}
	if len(sources) == 0 {
		return errors.New("transfer requires at least one object")
	}
	for _, src := range sources {
		if !b.IsBound(src) {
			return fmt.Errorf("transfer source %q is not bound", src)
		}
	}
	b.ops = append(b.ops, Operation{Kind: OpKindTransfer, Sources: append([]string(nil), sources...), Target: recipient})
	return nil
}

// Mark records a provenance marker. Markers carry no on-ledger effect.
func (b *Builder) Mark(label string) {
	b.ops = append(b.ops, Operation{Kind: OpKindMarker, Label: label})
}

// Operations returns a copy of the recorded operations in order.
func (b *Builder) Operations() []Operation {
	return append([]Operation(nil), b.ops...)
}

// Finish seals the builder into a submittable plan.
func (b *Builder) Finish(actingAddress string) (*Plan, error) {
	if strings.TrimSpace(actingAddress) == "" {
		return nil, errors.New("acting address must not be empty")
	}
	if len(b.ops) == 0 {
		return nil, errors.New("plan contains no operations")
	}
	return &Plan{ActingAddress: actingAddress, Operations: b.Operations()}, nil
}

// Plan is a finished, ordered operation list ready for signing/submission.
type Plan struct {
	ActingAddress string      `json:"acting_address"`
	Operations    []Operation `json:"operations"`
}
