package models

// Customer is a buyer identified by phone. The phone doubles as the login.
type Customer struct {
	BaseModel
	Phone        string     `gorm:"size:20;uniqueIndex;not null" json:"phone"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Purchases    []Purchase `json:"purchases,omitempty"`
}
