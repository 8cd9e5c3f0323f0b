// Package recordops implements the record operators (component C3):
// Insert, Update and Delete primitives that every higher layer builds
// on, each validating its payload against the table/column registry
// before ever touching SQL.
package recordops

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/ledgerwatch/namedb/internal/store"
)

// assertFieldsMatch mirrors namedb_assert_fields_match: depending on the
// two flags, checks that every registered column has a record field
// (columnsMatchRecord) and/or that every record field names a real
// column (recordMatchesColumns).
func assertFieldsMatch(table string, fields map[string]interface{}, recordMatchesColumns, columnsMatchRecord bool) error {
	columns := store.ColumnsOf(table)
	if columns == nil {
		return fmt.Errorf("recordops: unknown table %q", table)
	}
	colSet := make(map[string]bool, len(columns))
	for _, c := range columns {
		colSet[c] = true
	}

	var missing, extra []string
	if columnsMatchRecord {
		for _, c := range columns {
			if _, ok := fields[c]; !ok {
				missing = append(missing, c)
			}
		}
	}
	if recordMatchesColumns {
		for k := range fields {
			if !colSet[k] {
				extra = append(extra, k)
			}
		}
	}
	if len(missing) != 0 || len(extra) != 0 {
		sort.Strings(missing)
		sort.Strings(extra)
		return store.ErrSchemaMismatch{Table: table, Missing: missing, Extra: extra}
	}
	return nil
}

// Exec is satisfied by *sql.Tx (and *sql.DB, for tests).
type Exec interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Insert inserts a full row into table. record must carry a value for
// every registered column and no others.
func Insert(tx Exec, table string, record map[string]interface{}) error {
	if err := assertFieldsMatch(table, record, true, true); err != nil {
		return err
	}
	columns := make([]string, 0, len(record))
	for c := range record {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	values := make([]interface{}, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		values[i] = record[c]
		placeholders[i] = "?"
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table,
		strings.Join(columns, ","), strings.Join(placeholders, ","))

	res, err := tx.Exec(query, values...)
	if err != nil {
		return fmt.Errorf("recordops: insert into %s: %w", table, err)
	}
	return requireExactlyOne(res, table)
}

// Update applies a partial update to the row identified by primaryKey,
// requiring mustEqual to hold (used as additional WHERE equality
// constraints, and guaranteed disjoint from onlyIf) and onlyIf to hold
// (optional extra WHERE equality constraints gating the update — e.g.
// "only touch this row if its current op is still X"). primaryKey must
// be a member of mustEqual: a primary key is identifying information,
// never something silently left out of the WHERE clause.
//
// record holds the new values for every column being changed (the
// "mutate fields"); mustEqual and onlyIf name columns whose *current*
// value is checked, not changed, so their values are read out of
// currentValues.
func Update(tx Exec, table, primaryKey string, record map[string]interface{}, mustEqual []string, currentValues, onlyIf map[string]interface{}) error {
	mustEqualSet := make(map[string]bool, len(mustEqual))
	for _, c := range mustEqual {
		mustEqualSet[c] = true
	}
	if !mustEqualSet[primaryKey] {
		return fmt.Errorf("recordops: %s: primary key %q must be in mustEqual", table, primaryKey)
	}
	if len(mustEqual) == 0 {
		return fmt.Errorf("recordops: %s: mustEqual must not be empty", table)
	}
	for _, c := range mustEqual {
		if _, ok := onlyIf[c]; ok {
			return fmt.Errorf("recordops: %s: column %q present in both mustEqual and onlyIf", table, c)
		}
	}

	if err := assertFieldsMatch(table, record, true, false); err != nil {
		return err
	}
	mustEqualFields := make(map[string]interface{}, len(mustEqual))
	for _, c := range mustEqual {
		mustEqualFields[c] = currentValues[c]
	}
	if err := assertFieldsMatch(table, mustEqualFields, true, false); err != nil {
		return err
	}
	if err := assertFieldsMatch(table, onlyIf, true, false); err != nil {
		return err
	}

	updateCols := make([]string, 0, len(record))
	for c := range record {
		updateCols = append(updateCols, c)
	}
	sort.Strings(updateCols)

	setClauses := make([]string, len(updateCols))
	setValues := make([]interface{}, len(updateCols))
	for i, c := range updateCols {
		setClauses[i] = c + " = ?"
		setValues[i] = record[c]
	}

	var whereClauses []string
	var whereValues []interface{}
	for _, c := range mustEqual {
		v := currentValues[c]
		if v == nil {
			whereClauses = append(whereClauses, c+" IS NULL")
		} else {
			whereClauses = append(whereClauses, c+" = ?")
			whereValues = append(whereValues, v)
		}
	}
	// onlyIf is appended to both the WHERE clause and the bound
	// parameter list — the original implementation appends onlyIf's
	// values through a `.values` attribute its list does not have, so
	// any non-empty onlyIf fails there and onlyIf is in effect dead.
	// That is corrected here: onlyIf is a real, exercised constraint.
	onlyIfCols := make([]string, 0, len(onlyIf))
	for c := range onlyIf {
		onlyIfCols = append(onlyIfCols, c)
	}
	sort.Strings(onlyIfCols)
	for _, c := range onlyIfCols {
		v := onlyIf[c]
		if v == nil {
			whereClauses = append(whereClauses, c+" IS NULL")
		} else {
			whereClauses = append(whereClauses, c+" = ?")
			whereValues = append(whereValues, v)
		}
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table,
		strings.Join(setClauses, ", "), strings.Join(whereClauses, " AND "))
	args := append(setValues, whereValues...)

	res, err := tx.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("recordops: update %s: %w", table, err)
	}
	return requireExactlyOne(res, table)
}

// Delete removes exactly one row identified by primaryKey = value.
func Delete(tx Exec, table, primaryKey string, value interface{}) error {
	if err := assertFieldsMatch(table, map[string]interface{}{primaryKey: value}, true, false); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, primaryKey)
	res, err := tx.Exec(query, value)
	if err != nil {
		return fmt.Errorf("recordops: delete from %s: %w", table, err)
	}
	return requireExactlyOne(res, table)
}

func requireExactlyOne(res sql.Result, table string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("recordops: %s: rows affected: %w", table, err)
	}
	if n != 1 {
		return store.ErrRowCountMismatch{Table: table, Expected: 1, Got: n}
	}
	return nil
}
