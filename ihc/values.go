package ihc

import (
	"fmt"
	"math"
)

// ValueKind discriminates the variants of ResourceValue. The wire tag that
// selects a kind is carried in an xsi:type attribute of form "ns:WS<Kind>Value"
// (see wireValueDecoders in codec.go for the tag -> kind table).
type ValueKind int

const (
	// KindAbsent marks a value element with no xsi:type attribute: the
	// controller reported no value for the resource.
	KindAbsent ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindEnum
	KindTimer
	KindTime
	KindDateTime
	KindDate
	// KindRaw marks a value element whose xsi:type is not one of the known
	// variants; its raw element text is preserved instead of failing.
	KindRaw
)

func (k ValueKind) String() string {
	switch k {
	case KindAbsent:
		return "Absent"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindEnum:
		return "EnumName"
	case KindTimer:
		return "TimerMilliseconds"
	case KindTime:
		return "TimeOfDay"
	case KindDateTime:
		return "DateTime"
	case KindDate:
		return "Date"
	case KindRaw:
		return "Raw"
	default:
		return "Unknown"
	}
}

// TimeOfDay models a WSTimeValue: hours/minutes/seconds with no date part.
type TimeOfDay struct {
	Hours, Minutes, Seconds int
}

// DateValue models a WSDateValue. A Year of 0 on the wire is resolved to the
// current year at decode time before this struct is populated.
type DateValue struct {
	Year, Month, Day int
}

// DateTimeValue models a WSDateTimeValue.
type DateTimeValue struct {
	Year, Month, Day        int
	Hours, Minutes, Seconds int
}

// ResourceValue is a tagged union over the scalar types a controller resource
// can carry on the wire. Zero value is KindAbsent.
type ResourceValue struct {
	Kind ValueKind

	Bool              bool
	Int               int
	Float             float64
	EnumName          string
	TimerMilliseconds int
	Time              TimeOfDay
	DateTime          DateTimeValue
	Date              DateValue
	Raw               string
}

// IsAbsent reports whether the controller's reply carried no value for the
// resource this ResourceValue decodes.
func (v ResourceValue) IsAbsent() bool { return v.Kind == KindAbsent }

// BoolValue constructs a KindBool ResourceValue.
func BoolValue(v bool) ResourceValue { return ResourceValue{Kind: KindBool, Bool: v} }

// IntValue constructs a KindInt ResourceValue.
func IntValue(v int) ResourceValue { return ResourceValue{Kind: KindInt, Int: v} }

// FloatValue constructs a KindFloat ResourceValue, rounded to two decimals
// per §3's read-side quantization rule.
func FloatValue(v float64) ResourceValue {
	return ResourceValue{Kind: KindFloat, Float: roundTo2(v)}
}

// EnumValue constructs a KindEnum ResourceValue.
func EnumValue(name string) ResourceValue { return ResourceValue{Kind: KindEnum, EnumName: name} }

// TimerValue constructs a KindTimer ResourceValue holding a millisecond count.
func TimerValue(ms int) ResourceValue { return ResourceValue{Kind: KindTimer, TimerMilliseconds: ms} }

// TimeValue constructs a KindTime ResourceValue.
func TimeValue(hours, minutes, seconds int) ResourceValue {
	return ResourceValue{Kind: KindTime, Time: TimeOfDay{Hours: hours, Minutes: minutes, Seconds: seconds}}
}

// DateTimeVal constructs a KindDateTime ResourceValue.
func DateTimeVal(year, month, day, hours, minutes, seconds int) ResourceValue {
	return ResourceValue{Kind: KindDateTime, DateTime: DateTimeValue{
		Year: year, Month: month, Day: day, Hours: hours, Minutes: minutes, Seconds: seconds,
	}}
}

// DateVal constructs a KindDate ResourceValue. Callers decoding from the wire
// should resolve a year of 0 to the current year before calling this.
func DateVal(year, month, day int) ResourceValue {
	return ResourceValue{Kind: KindDate, Date: DateValue{Year: year, Month: month, Day: day}}
}

func roundTo2(f float64) float64 {
	return math.Round(f*100) / 100
}

// String renders the scalar in a human-readable form, for logging and tests.
func (v ResourceValue) String() string {
	switch v.Kind {
	case KindAbsent:
		return "<absent>"
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%.2f", v.Float)
	case KindEnum:
		return v.EnumName
	case KindTimer:
		return fmt.Sprintf("%dms", v.TimerMilliseconds)
	case KindTime:
		return fmt.Sprintf("%02d:%02d:%02d", v.Time.Hours, v.Time.Minutes, v.Time.Seconds)
	case KindDateTime:
		dt := v.DateTime
		return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", dt.Year, dt.Month, dt.Day, dt.Hours, dt.Minutes, dt.Seconds)
	case KindDate:
		return fmt.Sprintf("%04d-%02d-%02d", v.Date.Year, v.Date.Month, v.Date.Day)
	case KindRaw:
		return v.Raw
	default:
		return "<unknown>"
	}
}
