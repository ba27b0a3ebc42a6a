package products

type productRequest struct {
	SKU  string `json:"sku" validate:"required,max=40"`
	Name string `json:"name" validate:"required,max=160"`
}

type listResponse struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
}
