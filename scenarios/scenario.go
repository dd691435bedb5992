// Package scenarios holds a fixed catalogue of concurrency and isolation
// acceptance scenarios exercised against live shared state in the
// server-under-test. Every scenario brackets its assertions with its own
// table creation and drop, so scenarios stay independently runnable.
package scenarios

import (
	"fmt"
	"strconv"
)

type (
	ExecutionMode string
	queryFunc     func(sql string) string
	Scenario      struct {
		Name     string
		Mode     ExecutionMode
		Setup    []string
		Teardown []string
		Actions  func() []string
		Verify   func(query queryFunc) error
	}
	assertionViolation struct {
		msg string
	}
)

const (
	Sequential = ExecutionMode("sequential")
	Concurrent = ExecutionMode("concurrent")
)

func (v assertionViolation) Error() string {

	return v.msg

}

func violatedf(format string, args ...any) error {

	return assertionViolation{msg: fmt.Sprintf(format, args...)}

}

// IsAssertionViolation distinguishes a broken invariant from scenario
// plumbing errors such as an unparseable query result.
func IsAssertionViolation(err error) bool {

	_, ok := err.(assertionViolation)
	return ok

}

func Catalogue() []Scenario {

	return []Scenario{
		balanceTransferScenario(),
		counterIncrementScenario(),
		rowLockIncrementScenario(),
		inventoryReservationScenario(),
		rollbackIsolationScenario(),
		sequentialOrderingScenario(),
	}

}

func balanceTransferScenario() Scenario {

	return Scenario{
		Name: "balance transfer",
		Mode: Concurrent,
		Setup: []string{
			"DROP TABLE IF EXISTS concurrent_accounts CASCADE",
			"CREATE TABLE concurrent_accounts (id INT PRIMARY KEY, balance DECIMAL(15,2) NOT NULL)",
			"INSERT INTO concurrent_accounts VALUES (1, 1000.00)",
			"INSERT INTO concurrent_accounts VALUES (2, 1000.00)",
			"INSERT INTO concurrent_accounts VALUES (3, 1000.00)",
		},
		Teardown: []string{
			"DROP TABLE IF EXISTS concurrent_accounts CASCADE",
		},
		Actions: func() []string {
			var scripts []string
			for i := 0; i < 10; i++ {
				fromID := (i % 3) + 1
				toID := ((i + 1) % 3) + 1
				scripts = append(scripts, fmt.Sprintf(`BEGIN;
UPDATE concurrent_accounts SET balance = balance - 10.00 WHERE id = %d;
UPDATE concurrent_accounts SET balance = balance + 10.00 WHERE id = %d;
COMMIT;`, fromID, toID))
			}
			return scripts
		},
		Verify: func(query queryFunc) error {
			total, err := queryDecimal(query, "SELECT SUM(balance) FROM concurrent_accounts")
			if err != nil {
				return err
			}
			if total != 3000.00 {
				return violatedf("total balance should be 3000.00, got %.2f", total)
			}
			return nil
		},
	}

}

func counterIncrementScenario() Scenario {

	return Scenario{
		Name: "counter increment",
		Mode: Sequential,
		Setup: []string{
			"DROP TABLE IF EXISTS concurrent_counter CASCADE",
			"CREATE TABLE concurrent_counter (id INT PRIMARY KEY, value INT NOT NULL)",
			"INSERT INTO concurrent_counter VALUES (1, 0)",
		},
		Teardown: []string{
			"DROP TABLE IF EXISTS concurrent_counter CASCADE",
		},
		Actions: func() []string {
			return repeatScript(`BEGIN;
UPDATE concurrent_counter SET value = value + 1 WHERE id = 1;
COMMIT;`, 10)
		},
		Verify: func(query queryFunc) error {
			value, err := queryInt(query, "SELECT value FROM concurrent_counter WHERE id = 1")
			if err != nil {
				return err
			}
			if value != 10 {
				return violatedf("counter should be 10 after 10 increments, got %d", value)
			}
			return nil
		},
	}

}

func rowLockIncrementScenario() Scenario {

	return Scenario{
		Name: "row-lock increment",
		Mode: Sequential,
		Setup: []string{
			"DROP TABLE IF EXISTS concurrent_counter CASCADE",
			"CREATE TABLE concurrent_counter (id INT PRIMARY KEY, value INT NOT NULL)",
			"INSERT INTO concurrent_counter VALUES (1, 0)",
		},
		Teardown: []string{
			"DROP TABLE IF EXISTS concurrent_counter CASCADE",
		},
		Actions: func() []string {
			return repeatScript(`BEGIN;
SELECT value FROM concurrent_counter WHERE id = 1 FOR UPDATE;
UPDATE concurrent_counter SET value = value + 1 WHERE id = 1;
COMMIT;`, 10)
		},
		Verify: func(query queryFunc) error {
			value, err := queryInt(query, "SELECT value FROM concurrent_counter WHERE id = 1")
			if err != nil {
				return err
			}
			if value != 10 {
				return violatedf("with FOR UPDATE, final value should be 10, got %d", value)
			}
			return nil
		},
	}

}

func inventoryReservationScenario() Scenario {

	return Scenario{
		Name: "inventory reservation",
		Mode: Concurrent,
		Setup: []string{
			"DROP TABLE IF EXISTS concurrent_inventory CASCADE",
			"CREATE TABLE concurrent_inventory (product_id INT PRIMARY KEY, quantity INT NOT NULL CHECK (quantity >= 0))",
			"INSERT INTO concurrent_inventory VALUES (1, 100)",
		},
		Teardown: []string{
			"DROP TABLE IF EXISTS concurrent_inventory CASCADE",
		},
		Actions: func() []string {
			return repeatScript(`BEGIN;
SELECT quantity FROM concurrent_inventory WHERE product_id = 1 FOR UPDATE;
UPDATE concurrent_inventory SET quantity = quantity - 15 WHERE product_id = 1 AND quantity >= 15;
COMMIT;`, 10)
		},
		Verify: func(query queryFunc) error {
			remaining, err := queryInt(query, "SELECT quantity FROM concurrent_inventory WHERE product_id = 1")
			if err != nil {
				return err
			}
			if remaining < 0 {
				return violatedf("inventory should never go negative, got %d", remaining)
			}
			if remaining > 100 {
				return violatedf("inventory should never exceed the initial stock of 100, got %d", remaining)
			}
			return nil
		},
	}

}

func rollbackIsolationScenario() Scenario {

	return Scenario{
		Name: "rollback isolation",
		Mode: Sequential,
		Setup: []string{
			"DROP TABLE IF EXISTS concurrent_counter CASCADE",
			"CREATE TABLE concurrent_counter (id INT PRIMARY KEY, value INT NOT NULL)",
			"INSERT INTO concurrent_counter VALUES (1, 42)",
		},
		Teardown: []string{
			"DROP TABLE IF EXISTS concurrent_counter CASCADE",
		},
		Actions: func() []string {
			return []string{`BEGIN;
UPDATE concurrent_counter SET value = 999 WHERE id = 1;
ROLLBACK;`}
		},
		Verify: func(query queryFunc) error {
			value, err := queryInt(query, "SELECT value FROM concurrent_counter WHERE id = 1")
			if err != nil {
				return err
			}
			if value != 42 {
				return violatedf("value should be 42 after rollback, got %d", value)
			}
			return nil
		},
	}

}

func sequentialOrderingScenario() Scenario {

	return Scenario{
		Name: "sequential ordering",
		Mode: Sequential,
		Setup: []string{
			"DROP TABLE IF EXISTS concurrent_accounts CASCADE",
			"CREATE TABLE concurrent_accounts (id INT PRIMARY KEY, balance DECIMAL(15,2) NOT NULL)",
			"INSERT INTO concurrent_accounts VALUES (1, 500.00)",
			"INSERT INTO concurrent_accounts VALUES (2, 500.00)",
		},
		Teardown: []string{
			"DROP TABLE IF EXISTS concurrent_accounts CASCADE",
		},
		Actions: func() []string {
			return repeatScript(`BEGIN;
UPDATE concurrent_accounts SET balance = balance - 10.00 WHERE id = 1;
UPDATE concurrent_accounts SET balance = balance + 10.00 WHERE id = 2;
COMMIT;`, 10)
		},
		Verify: func(query queryFunc) error {
			total, err := queryDecimal(query, "SELECT SUM(balance) FROM concurrent_accounts")
			if err != nil {
				return err
			}
			balance1, err := queryDecimal(query, "SELECT balance FROM concurrent_accounts WHERE id = 1")
			if err != nil {
				return err
			}
			balance2, err := queryDecimal(query, "SELECT balance FROM concurrent_accounts WHERE id = 2")
			if err != nil {
				return err
			}
			if total != 1000.00 {
				return violatedf("total should be 1000.00, got %.2f", total)
			}
			if balance1 != 400.00 {
				return violatedf("account 1 should hold exactly 400.00, got %.2f", balance1)
			}
			if balance2 != 600.00 {
				return violatedf("account 2 should hold exactly 600.00, got %.2f", balance2)
			}
			return nil
		},
	}

}

func repeatScript(script string, times int) []string {

	scripts := make([]string, times)
	for i := range scripts {
		scripts[i] = script
	}

	return scripts

}

func queryDecimal(query queryFunc, sql string) (float64, error) {

	result := query(sql)

	value, err := strconv.ParseFloat(result, 64)
	if err != nil {
		return 0, fmt.Errorf("expected numeric result for '%s', got '%s'", sql, result)
	}

	return value, nil

}

func queryInt(query queryFunc, sql string) (int, error) {

	result := query(sql)

	value, err := strconv.Atoi(result)
	if err != nil {
		return 0, fmt.Errorf("expected integer result for '%s', got '%s'", sql, result)
	}

	return value, nil

}
