// Package strategy defines the strategy contract, the request parameter
// model, and the built-in buy-and-hold and indicator strategies.
package strategy

import (
	"errors"
	"fmt"
)

// ParameterType classifies a strategy parameter by which of its fields are
// populated.
type ParameterType string

const (
	NumericSingle ParameterType = "numericSingle"
	NumericMulti  ParameterType = "numericMulti"
	NumericRange  ParameterType = "numericRange"
	BoolType      ParameterType = "bool"
	StringSingle  ParameterType = "stringSingle"
	StringMulti   ParameterType = "stringMulti"
)

// ErrParameterShape reports an invalid combination of parameter fields.
var ErrParameterShape = errors.New("invalid combination of values in strategy parameter")

// Parameter is one named strategy argument from a backtest request.
//
//	{"name": "period", "value": 14}           numeric single
//	{"name": "contracts", "values": [1, 2]}   numeric multi
//	{"name": "short", "boolValue": true}      bool
//	{"name": "indicator", "stringValue": "rsi"}
type Parameter struct {
	Name         string    `json:"name"`
	Value        *float64  `json:"value,omitempty"`
	Limit        *float64  `json:"limit,omitempty"`
	Increment    *float64  `json:"increment,omitempty"`
	Values       []float64 `json:"values,omitempty"`
	BoolValue    *bool     `json:"boolValue,omitempty"`
	StringValue  *string   `json:"stringValue,omitempty"`
	StringValues []string  `json:"stringValues,omitempty"`
}

// Type derives the parameter type from the populated fields.
func (p *Parameter) Type() (ParameterType, error) {
	shape := [7]bool{
		p.Value != nil,
		p.Limit != nil,
		p.Increment != nil,
		p.Values != nil,
		p.BoolValue != nil,
		p.StringValue != nil,
		p.StringValues != nil,
	}
	switch shape {
	case [7]bool{true, false, false, false, false, false, false}:
		return NumericSingle, nil
	case [7]bool{true, true, false, false, false, false, false},
		[7]bool{true, true, true, false, false, false, false}:
		return NumericRange, nil
	case [7]bool{false, false, false, true, false, false, false}:
		return NumericMulti, nil
	case [7]bool{false, false, false, false, true, false, false}:
		return BoolType, nil
	case [7]bool{false, false, false, false, false, true, false}:
		return StringSingle, nil
	case [7]bool{false, false, false, false, false, false, true}:
		return StringMulti, nil
	default:
		return "", ErrParameterShape
	}
}

// Parameters is the ordered list of strategy arguments.
type Parameters []Parameter

// SingleValue builds a numeric single parameter.
func SingleValue(name string, value float64) Parameter {
	return Parameter{Name: name, Value: &value}
}

// BoolParameter builds a bool parameter.
func BoolParameter(name string, value bool) Parameter {
	return Parameter{Name: name, BoolValue: &value}
}

// StringParameter builds a string parameter.
func StringParameter(name, value string) Parameter {
	return Parameter{Name: name, StringValue: &value}
}

func (p Parameters) find(name string) *Parameter {
	for i := range p {
		if p[i].Name == name {
			return &p[i]
		}
	}
	return nil
}

func typeError(name string, actual, expected ParameterType) error {
	return fmt.Errorf("found parameter type %q for parameter %q, expected %q", actual, name, expected)
}

// Value returns a numeric single parameter, or nil when absent.
func (p Parameters) Value(name string) (*float64, error) {
	parameter := p.find(name)
	if parameter == nil {
		return nil, nil
	}
	parameterType, err := parameter.Type()
	if err != nil {
		return nil, err
	}
	if parameterType != NumericSingle {
		return nil, typeError(name, parameterType, NumericSingle)
	}
	return parameter.Value, nil
}

// ValueList returns a numeric parameter as a list, accepting both the single
// and multi shapes. Returns nil when absent.
func (p Parameters) ValueList(name string) ([]float64, error) {
	parameter := p.find(name)
	if parameter == nil {
		return nil, nil
	}
	parameterType, err := parameter.Type()
	if err != nil {
		return nil, err
	}
	switch parameterType {
	case NumericSingle:
		return []float64{*parameter.Value}, nil
	case NumericMulti:
		return parameter.Values, nil
	default:
		return nil, fmt.Errorf("found parameter type %q for parameter %q, expected %q or %q", parameterType, name, NumericSingle, NumericMulti)
	}
}

// Bool returns a bool parameter, or nil when absent.
func (p Parameters) Bool(name string) (*bool, error) {
	parameter := p.find(name)
	if parameter == nil {
		return nil, nil
	}
	parameterType, err := parameter.Type()
	if err != nil {
		return nil, err
	}
	if parameterType != BoolType {
		return nil, typeError(name, parameterType, BoolType)
	}
	return parameter.BoolValue, nil
}

// String returns a string parameter, or nil when absent.
func (p Parameters) String(name string) (*string, error) {
	parameter := p.find(name)
	if parameter == nil {
		return nil, nil
	}
	parameterType, err := parameter.Type()
	if err != nil {
		return nil, err
	}
	if parameterType != StringSingle {
		return nil, typeError(name, parameterType, StringSingle)
	}
	return parameter.StringValue, nil
}

// StringList returns a string parameter as a list, accepting both the single
// and multi shapes. Returns nil when absent.
func (p Parameters) StringList(name string) ([]string, error) {
	parameter := p.find(name)
	if parameter == nil {
		return nil, nil
	}
	parameterType, err := parameter.Type()
	if err != nil {
		return nil, err
	}
	switch parameterType {
	case StringSingle:
		return []string{*parameter.StringValue}, nil
	case StringMulti:
		return parameter.StringValues, nil
	default:
		return nil, fmt.Errorf("found parameter type %q for parameter %q, expected %q or %q", parameterType, name, StringSingle, StringMulti)
	}
}
