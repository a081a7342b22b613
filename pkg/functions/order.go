package functions

import (
	"sort"

	"propchain/pkg/models"
)

func orderRows(rows []models.WithdrawalRequest, q RowQuery) {
	switch {
	case q.Order == "":
		return
	case q.Order == "created_at" && q.Descending:
		models.SortNewestFirst(rows)
	default:
		key := func(w models.WithdrawalRequest) int64 {
			if q.Order == "updated_at" {
				return w.UpdatedAt.UnixNano()
			}
			return w.CreatedAt.UnixNano()
		}
		sort.SliceStable(rows, func(i, j int) bool {
			if q.Descending {
				return key(rows[i]) > key(rows[j])
			}
			return key(rows[i]) < key(rows[j])
		})
	}
}
