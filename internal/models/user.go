package models

import "time"

// User is a firm staff member who can sign in and operate trust accounts.
type User struct {
	ID        string     `json:"id"`
	FirmID    string     `json:"firm_id"`
	Email     string     `json:"email" example:"partner@firm.com"`
	FirstName string     `json:"first_name" example:"Jane"`
	LastName  string     `json:"last_name" example:"Doe"`
	Role      string     `json:"role"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Firm is the tenant. Every trust-accounting record is scoped by FirmID.
type Firm struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" example:"Doe & Associates LLP"`
	CreatedAt time.Time `json:"created_at"`
}
