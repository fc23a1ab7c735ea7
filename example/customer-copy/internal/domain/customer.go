// Package domain defines the tables of the customer-copy example.
package domain

import "time"

// Customer is a row of the source table.
type Customer struct {
	ID     int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	Name   string `gorm:"column:name;size:128"`
	Email  string `gorm:"column:email;size:256"`
	Region string `gorm:"column:region;size:32"`
}

// TableName implements gorm's Tabler.
func (Customer) TableName() string { return "customer" }

// CustomerCopy is a row of the target table.
type CustomerCopy struct {
	CustomerID int64     `gorm:"column:customer_id;primaryKey;autoIncrement:false"`
	Name       string    `gorm:"column:name;size:128"`
	Email      string    `gorm:"column:email;size:256"`
	Region     string    `gorm:"column:region;size:32"`
	CopiedAt   time.Time `gorm:"column:copied_at"`
}

// TableName implements gorm's Tabler.
func (CustomerCopy) TableName() string { return "customer_copy" }
