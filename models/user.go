package models

import "slices"

// User is a shopper account. Sellers additionally own products.
type User struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Image     string     `json:"image,omitempty"`
	IsAdmin   bool       `json:"is_admin"`
	Cart      []CartLine `json:"cart"`
	Addresses []Address  `json:"addresses"`
	Products  []string   `json:"products"`
}

// Address is a shipping address.
type Address struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Complete reports whether every address field is filled in.
func (a Address) Complete() bool {
	return a.Address != "" && a.City != "" && a.PostalCode != "" && a.Country != ""
}

// Identity is the verified caller supplied by the authentication layer.
type Identity struct {
	UserID  string
	IsAdmin bool
}

// Clone returns a deep copy of the user.
func (u User) Clone() User {
	u.Cart = CloneLines(u.Cart)
	u.Addresses = slices.Clone(u.Addresses)
	u.Products = slices.Clone(u.Products)
	return u
}
