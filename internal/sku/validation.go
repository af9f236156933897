package sku

import (
	"fmt"
	"strings"
)

func validate(s SKU) error {
	if strings.TrimSpace(s.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalid)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if s.CurrentStock < 0 {
		return fmt.Errorf("%w: stock cannot be negative", ErrInvalid)
	}
	if s.MinStockLevel < 0 {
		return fmt.Errorf("%w: minimum stock level cannot be negative", ErrInvalid)
	}
	return nil
}
