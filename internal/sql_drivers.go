package internal

import (
	// database/sql drivers for the watermill sql publisher ("mysql", "postgres").
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)
