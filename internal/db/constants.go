package db

// sqliteTimeLayout is the timestamp format understood by SQLite's date functions.
const sqliteTimeLayout = "2006-01-02 15:04:05.000"
