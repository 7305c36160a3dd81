package db

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertOrderFact writes an order fact if none exists for
// (policy_log_id, order_id). Facts are immutable: on conflict the first
// write wins and the new row is silently dropped. Returns whether the fact
// was newly inserted.
func InsertOrderFact(gdb *gorm.DB, fact *OrderFact) (bool, error) {
	res := gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "policy_log_id"}, {Name: "order_id"}},
		DoNothing: true,
	}).Create(fact)
	if res.Error != nil {
		return false, fmt.Errorf("db.InsertOrderFact: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FactsForPolicy returns every fact collected under one policy.
func FactsForPolicy(gdb *gorm.DB, policyLogID uint) ([]OrderFact, error) {
	var rows []OrderFact
	if err := gdb.Where("policy_log_id = ?", policyLogID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db.FactsForPolicy: %w", err)
	}
	return rows, nil
}
