// ABOUTME: Calculator tool performing basic arithmetic on two numbers
// ABOUTME: Reports bad input as an error payload instead of failing the turn

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
)

// CalculatorInput is the argument object of the calculator tool.
type CalculatorInput struct {
	FirstNum  float64 `json:"first_num" jsonschema_description:"The first operand"`
	SecondNum float64 `json:"second_num" jsonschema_description:"The second operand"`
	Operation string  `json:"operation" jsonschema_description:"One of add, sub, mul, div"`
}

// CalculatorResult echoes the inputs alongside the computed result.
type CalculatorResult struct {
	FirstNum  float64 `json:"first_num"`
	SecondNum float64 `json:"second_num"`
	Operation string  `json:"operation"`
	Result    float64 `json:"result"`
}

// Calculate applies the operation. The returned value is either a
// CalculatorResult or an error payload map; it never returns a Go error.
func Calculate(in CalculatorInput) any {
	var result float64
	switch in.Operation {
	case "add":
		result = in.FirstNum + in.SecondNum
	case "sub":
		result = in.FirstNum - in.SecondNum
	case "mul":
		result = in.FirstNum * in.SecondNum
	case "div":
		if in.SecondNum == 0 {
			return map[string]string{"error": "Division by zero is not allowed"}
		}
		result = in.FirstNum / in.SecondNum
	default:
		return map[string]string{"error": fmt.Sprintf("Unsupported operation '%s'", in.Operation)}
	}

	if math.IsInf(result, 0) || math.IsNaN(result) {
		return map[string]string{"error": "result is not a finite number"}
	}

	return CalculatorResult{
		FirstNum:  in.FirstNum,
		SecondNum: in.SecondNum,
		Operation: in.Operation,
		Result:    result,
	}
}

// CalculatorTool returns the calculator tool definition.
func CalculatorTool() *Tool {
	return &Tool{
		Definition: Definition{
			Name:        "calculator",
			Description: "Perform a basic arithmetic operation on two numbers. Supported operations: add, sub, mul, div",
			InputSchema: mustSchema(&CalculatorInput{}),
		},
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			var in CalculatorInput
			if err := json.Unmarshal(input, &in); err != nil {
				return map[string]string{"error": err.Error()}, nil
			}
			return Calculate(in), nil
		},
	}
}

// MathPack groups the arithmetic tools.
func MathPack() *Pack {
	return &Pack{
		ID:    "builtin:math",
		Tools: []*Tool{CalculatorTool()},
	}
}
