package model

import (
	"fmt"
	"math"
	"strconv"
)

// LimitKind tags the meaning of a Limit.
type LimitKind int

// Limit kinds.
const (
	LimitUnlimited LimitKind = iota
	LimitGlobalDefault
	LimitCustom
)

// Sentinel values used by the torrent client for limits.
const (
	SentinelUnlimited     = -1
	SentinelGlobalDefault = -2
)

// ratioTolerance absorbs float noise from the client's JSON.
const ratioTolerance = 1e-3

// Limit is a per-torrent limit: unlimited, the client's global default,
// or a custom value. Limits are comparable and can be used as map keys.
type Limit[T int64 | float64] struct {
	Kind  LimitKind
	Value T
}

// Unlimited returns a limit that imposes no cap.
func Unlimited[T int64 | float64]() Limit[T] {
	return Limit[T]{Kind: LimitUnlimited}
}

// GlobalDefault returns a limit that defers to the client's global setting.
func GlobalDefault[T int64 | float64]() Limit[T] {
	return Limit[T]{Kind: LimitGlobalDefault}
}

// Custom returns a limit with an explicit value.
func Custom[T int64 | float64](v T) Limit[T] {
	return Limit[T]{Kind: LimitCustom, Value: v}
}

// LimitFromSentinel decodes the client's sentinel encoding.
func LimitFromSentinel[T int64 | float64](v T) Limit[T] {
	switch {
	case v == SentinelUnlimited:
		return Unlimited[T]()
	case v == SentinelGlobalDefault:
		return GlobalDefault[T]()
	default:
		return Custom(v)
	}
}

// Sentinel encodes the limit the way the client API expects it.
func (l Limit[T]) Sentinel() T {
	switch l.Kind {
	case LimitUnlimited:
		return SentinelUnlimited
	case LimitGlobalDefault:
		return SentinelGlobalDefault
	default:
		return l.Value
	}
}

// Equal reports whether two limits have the same effect. Custom float values
// are compared with a small tolerance.
func (l Limit[T]) Equal(o Limit[T]) bool {
	if l.Kind != o.Kind {
		return false
	}
	if l.Kind != LimitCustom {
		return true
	}
	return math.Abs(float64(l.Value)-float64(o.Value)) < ratioTolerance
}

func (l Limit[T]) String() string {
	switch l.Kind {
	case LimitUnlimited:
		return "unlimited"
	case LimitGlobalDefault:
		return "global"
	default:
		switch v := any(l.Value).(type) {
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return fmt.Sprint(v)
		}
	}
}

// Ptr returns a pointer to l, for optional rule fields.
func (l Limit[T]) Ptr() *Limit[T] {
	return &l
}
