package models

import "gorm.io/gorm"

// Ticker is a stock in the tracked universe.
// Removal is a soft delete: Active is flipped to false so historical bars
// and trade history keep their foreign symbol intact.
type Ticker struct {
	gorm.Model
	Symbol string `gorm:"uniqueIndex" json:"symbol"`
	Name   string `json:"name"`
	Sector string `json:"sector"`
	Active bool   `gorm:"default:true" json:"active"`
}
