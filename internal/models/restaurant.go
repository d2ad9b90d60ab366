package models

import "time"

// Restaurant uses a caller-supplied slug as its key so that ratings and menu
// rows can reference it without an extra lookup.
type Restaurant struct {
	ID        string     `json:"id" gorm:"type:varchar(100);primaryKey"`
	Cuisine   string     `json:"cuisine" gorm:"type:varchar(100);not null"`
	PhotoKey  *string    `json:"photoKey,omitempty" gorm:"type:text"`
	Menu      []MenuItem `json:"menu,omitempty" gorm:"many2many:restaurant_menu_items"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type MenuItem struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(150);not null"`
	Price     float64   `json:"price" gorm:"not null"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
