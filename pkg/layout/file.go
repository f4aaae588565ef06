package layout

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/willibrandon/pdscope/pkg/variant"
)

// ErrInvalidContract matches every ContractError.
var ErrInvalidContract = errors.New("invalid layout contract")

// ContractError describes a contract file that cannot be used.
type ContractError struct {
	Path  string
	Field string
	Err   error
}

func (e *ContractError) Error() string {
	msg := "layout contract"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Field != "" {
		msg += ": " + e.Field
	}
	return msg + ": " + e.Err.Error()
}

func (e *ContractError) Is(target error) bool {
	return target == ErrInvalidContract
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

// LoadFile reads a YAML contract. The optional top-level "base" key names a
// built-in revision whose values fill in whatever the file leaves out.
//
//	base: rev2
//	name: pdcrt with renamed frames
//	frame:
//	  type: pdcrt_frame
//	value_tags:
//	  - {disc: 0, case: integer, field: i}
func LoadFile(path string) (*Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ContractError{Path: path, Err: err}
	}
	c, err := Parse(data)
	if err != nil {
		var ce *ContractError
		if errors.As(err, &ce) {
			ce.Path = path
			return nil, ce
		}
		return nil, &ContractError{Path: path, Err: err}
	}
	return c, nil
}

// Parse decodes a YAML contract held in memory.
func Parse(data []byte) (*Contract, error) {
	var header struct {
		Base string `yaml:"base"`
	}
	if err := yaml.Unmarshal(data, &header); err != nil {
		return nil, &ContractError{Err: err}
	}

	c := &Contract{}
	if header.Base != "" {
		rev, err := ParseRevision(header.Base)
		if err != nil {
			return nil, &ContractError{Field: "base", Err: err}
		}
		c, _ = For(rev)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, &ContractError{Err: err}
	}
	if err := c.build(); err != nil {
		return nil, err
	}
	return c, nil
}

// Marshal renders c in the format LoadFile accepts.
func (c *Contract) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Contract) build() error {
	required := []struct {
		field string
		value string
	}{
		{"text.type", c.Text.Type},
		{"text.data", c.Text.Data},
		{"text.length", c.Text.Length},
		{"value.type", c.Value.Type},
		{"value.tag", c.Value.Tag},
		{"value.union", c.Value.Union},
		{"closure.env", c.Closure.Env},
		{"env.type", c.Env.Type},
		{"env.size", c.Env.Size},
		{"env.slots", c.Env.Slots},
		{"frame.type", c.Frame.Type},
		{"frame.previous", c.Frame.Previous},
		{"frame.locals", c.Frame.Locals},
		{"frame.num_locals", c.Frame.NumLocals},
	}
	for _, r := range required {
		if r.value == "" {
			return &ContractError{Field: r.field, Err: errors.New("missing")}
		}
	}
	if c.Revision == 0 {
		c.Revision = Rev2
	}

	vt, err := tableOf(c.Value.Type, c.ValueTags)
	if err != nil {
		return &ContractError{Field: "value_tags", Err: err}
	}
	if _, ok := vt.Lookup(variant.Closure); !ok {
		return &ContractError{Field: "value_tags", Err: errors.New("no closure discriminant")}
	}
	c.valueTable = vt

	ctName := c.Continuation.Type
	if ctName == "" {
		ctName = "pdcrt_continuacion"
	}
	ct, err := tableOf(ctName, c.ContinuationTags)
	if err != nil {
		return &ContractError{Field: "continuation_tags", Err: err}
	}
	c.contTable = ct

	c.index()
	return nil
}

func tableOf(name string, rows []TagRow) (*variant.Table, error) {
	vs := make([]variant.Variant, 0, len(rows))
	for _, r := range rows {
		cs, err := variant.ParseCase(r.Case)
		if err != nil {
			return nil, fmt.Errorf("discriminant %d: %w", r.Disc, err)
		}
		vs = append(vs, variant.Variant{Disc: r.Disc, Case: cs, Field: r.Field, Deref: r.Deref})
	}
	return variant.NewTable(name, vs...)
}
