// Package repository prepares the example tables.
package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/pagebatch/example/customer-copy/internal/domain"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

var regions = []string{"east", "west", "north", "south"}

// EnsureSchema creates the customer and customer_copy tables when missing.
func EnsureSchema(ctx context.Context, source, target *gorm.DB) error {
	if err := source.WithContext(ctx).AutoMigrate(&domain.Customer{}); err != nil {
		return exception.NewBatchError("customer_repository", "failed to migrate customer table", err, false, false)
	}
	if err := target.WithContext(ctx).AutoMigrate(&domain.CustomerCopy{}); err != nil {
		return exception.NewBatchError("customer_repository", "failed to migrate customer_copy table", err, false, false)
	}
	return nil
}

// SeedCustomers inserts count customers with ids 1..count when the table is empty.
// It returns the number of rows inserted.
func SeedCustomers(ctx context.Context, db *gorm.DB, count int) (int, error) {
	var existing int64
	if err := db.WithContext(ctx).Model(&domain.Customer{}).Count(&existing).Error; err != nil {
		return 0, exception.NewBatchError("customer_repository", "failed to count customers", err, true, false)
	}
	if existing > 0 || count == 0 {
		logger.Debugf("Customer table holds %d rows, not seeding.", existing)
		return 0, nil
	}

	customers := make([]domain.Customer, count)
	for i := range customers {
		id := int64(i + 1)
		customers[i] = domain.Customer{
			ID:     id,
			Name:   fmt.Sprintf("customer-%05d", id),
			Email:  fmt.Sprintf("customer-%05d@example.com", id),
			Region: regions[i%len(regions)],
		}
	}
	if err := db.WithContext(ctx).CreateInBatches(customers, 500).Error; err != nil {
		return 0, exception.NewBatchError("customer_repository", "failed to seed customers", err, false, false)
	}
	logger.Infof("Seeded %d customers.", count)
	return count, nil
}

// CountCopies returns the number of rows in customer_copy.
func CountCopies(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.CustomerCopy{}).Count(&n).Error
	return n, err
}
