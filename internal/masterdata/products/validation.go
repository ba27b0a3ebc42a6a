package products

import "fmt"

const (
	maxSKULength  = 40
	maxNameLength = 160
)

func (s *Service) validate(p Product) error {
	if p.SKU == "" {
		return fmt.Errorf("%w: sku is required", ErrValidation)
	}
	if len(p.SKU) > maxSKULength {
		return fmt.Errorf("%w: sku exceeds %d characters", ErrValidation, maxSKULength)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(p.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrValidation, maxNameLength)
	}
	return nil
}
