package cache

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Key is an order-sensitive composite cache key. Two keys are equal when
// the same values were added in the same order, so a Key built in one
// process matches the one built in another. Key is comparable and can be
// used directly as a map key.
type Key struct {
	repr  string
	count int
}

// NullKey is the zero key: nothing has been added to it.
var NullKey = Key{}

// Update appends one component.
func (k *Key) Update(v any) {
	part := encodePart(v)
	k.repr += strconv.Itoa(len(part)) + ":" + part + ";"
	k.count++
}

// UpdateAll appends every component in order.
func (k *Key) UpdateAll(vs ...any) {
	for _, v := range vs {
		k.Update(v)
	}
}

// Count returns the number of components.
func (k Key) Count() int {
	return k.count
}

// String returns the canonical form, also used as the Redis hash field.
func (k Key) String() string {
	return k.repr
}

// Hash fingerprints the canonical form.
func (k Key) Hash() uint64 {
	return xxhash.Sum64String(k.repr)
}

// encodePart renders v with its type so that int64(1) and "1" differ.
// Pointers are followed to the value they bind, and a nil pointer encodes
// like nil.
func encodePart(v any) string {
	v = indirect(v)
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return "s" + x
	case []byte:
		return "b" + string(x)
	case fmt.Stringer:
		return fmt.Sprintf("%T=%s", v, x.String())
	default:
		return fmt.Sprintf("%T=%v", v, v)
	}
}

func indirect(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		if _, ok := rv.Elem().Interface().(fmt.Stringer); !ok {
			if s, ok := rv.Interface().(fmt.Stringer); ok {
				return s
			}
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}
