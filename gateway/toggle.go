package gateway

import "context"

// Toggle removes the rows matching match if there are any, and inserts row otherwise. It reports whether the row
// was added. The check and the mutation are two separate calls, concurrent toggles of the same key are resolved
// by the unique index of the collection.
func Toggle(ctx context.Context, store Store, collection string, match []Filter, row Row) (bool, error) {
	existing, err := store.Select(ctx, From(collection).Select("id").Where(match...).LimitTo(1))
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		err = store.Delete(ctx, collection, match...)
		if err != nil {
			return false, err
		}
		return false, nil
	}
	_, err = store.Insert(ctx, collection, row)
	if err != nil {
		return false, err
	}
	return true, nil
}
