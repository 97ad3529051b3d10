package entity

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/datagate/internal/errs"
)

// Kind is the scalar kind of a field.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Sentinels written into required fields the caller left unset.
const DefaultText = "-"

// DefaultTime is the minimum representable instant.
var DefaultTime = time.Time{}

// FieldAccessor reads and writes one field without reflection.
type FieldAccessor struct {
	Name     string
	Kind     Kind
	Required bool
	Get      func(Entity) any
	Set      func(Entity, any) error
}

// StringField builds a string accessor for entity type T.
func StringField[T Entity](name string, required bool, get func(T) string, set func(T, string)) FieldAccessor {
	return FieldAccessor{
		Name: name, Kind: KindString, Required: required,
		Get: func(e Entity) any { return get(e.(T)) },
		Set: func(e Entity, v any) error {
			s, ok := v.(string)
			if !ok {
				return kindErr(name, KindString, v)
			}
			set(e.(T), s)
			return nil
		},
	}
}

// IntField builds an int64 accessor for entity type T.
func IntField[T Entity](name string, required bool, get func(T) int64, set func(T, int64)) FieldAccessor {
	return FieldAccessor{
		Name: name, Kind: KindInt, Required: required,
		Get: func(e Entity) any { return get(e.(T)) },
		Set: func(e Entity, v any) error {
			n, err := toInt(v)
			if err != nil {
				return kindErr(name, KindInt, v)
			}
			set(e.(T), n)
			return nil
		},
	}
}

// FloatField builds a float64 accessor for entity type T.
func FloatField[T Entity](name string, required bool, get func(T) float64, set func(T, float64)) FieldAccessor {
	return FieldAccessor{
		Name: name, Kind: KindFloat, Required: required,
		Get: func(e Entity) any { return get(e.(T)) },
		Set: func(e Entity, v any) error {
			f, err := toFloat(v)
			if err != nil {
				return kindErr(name, KindFloat, v)
			}
			set(e.(T), f)
			return nil
		},
	}
}

// BoolField builds a bool accessor for entity type T.
func BoolField[T Entity](name string, required bool, get func(T) bool, set func(T, bool)) FieldAccessor {
	return FieldAccessor{
		Name: name, Kind: KindBool, Required: required,
		Get: func(e Entity) any { return get(e.(T)) },
		Set: func(e Entity, v any) error {
			switch b := v.(type) {
			case bool:
				set(e.(T), b)
			case string:
				p, err := strconv.ParseBool(b)
				if err != nil {
					return kindErr(name, KindBool, v)
				}
				set(e.(T), p)
			default:
				return kindErr(name, KindBool, v)
			}
			return nil
		},
	}
}

// TimeField builds a time accessor for entity type T. Strings are parsed as RFC 3339.
func TimeField[T Entity](name string, required bool, get func(T) time.Time, set func(T, time.Time)) FieldAccessor {
	return FieldAccessor{
		Name: name, Kind: KindTime, Required: required,
		Get: func(e Entity) any { return get(e.(T)) },
		Set: func(e Entity, v any) error {
			switch t := v.(type) {
			case time.Time:
				set(e.(T), t)
			case string:
				p, err := time.Parse(time.RFC3339Nano, t)
				if err != nil {
					return kindErr(name, KindTime, v)
				}
				set(e.(T), p)
			default:
				return kindErr(name, KindTime, v)
			}
			return nil
		},
	}
}

func kindErr(field string, want Kind, got any) error {
	return fmt.Errorf("%w: field %s expects %s, got %T", errs.ErrInvalidArgument, field, want, got)
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, fmt.Errorf("not integral")
		}
		if n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, fmt.Errorf("out of int64 range")
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("unsupported %T", v)
	}
}

// Apply writes caller-supplied values through the accessors and returns
// the set of fields written.
func Apply(d *Descriptor, e Entity, values map[string]any) (map[string]bool, error) {
	written := make(map[string]bool, len(values))
	for name, v := range values {
		f, ok := d.Field(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field %q", errs.ErrInvalidArgument, d.Name, name)
		}
		if err := f.Set(e, v); err != nil {
			return nil, err
		}
		written[name] = true
	}
	return written, nil
}

// PopulateDefaults fills required fields that were not explicitly written:
// empty text gets DefaultText and time gets DefaultTime.
func PopulateDefaults(d *Descriptor, e Entity, written map[string]bool) {
	for _, f := range d.Fields {
		if !f.Required || written[f.Name] {
			continue
		}
		switch f.Kind {
		case KindString:
			if s, _ := f.Get(e).(string); s == "" {
				_ = f.Set(e, DefaultText)
			}
		case KindTime:
			_ = f.Set(e, DefaultTime)
		}
	}
}
