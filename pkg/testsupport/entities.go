package testsupport

import (
	"time"

	"github.com/uptrace/bun"
)

// Customer is a root entity with a database generated key.
type Customer struct {
	bun.BaseModel `bun:"table:customers"`

	ID    int64  `bun:"id,pk,autoincrement"`
	Name  string `bun:"name"`
	Email string `bun:"email"`
}

// Order references a Customer and owns a collection of lines.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID         int64        `bun:"id,pk,autoincrement"`
	Reference  string       `bun:"reference"`
	Total      float64      `bun:"total"`
	PlacedAt   time.Time    `bun:"placed_at"`
	CustomerID int64        `bun:"customer_id"`
	Customer   *Customer    `bun:"rel:belongs-to,join:customer_id=id"`
	Lines      []*OrderLine `bun:"rel:has-many,join:id=order_id,cascade"`
}

// OrderLine belongs to an Order.
type OrderLine struct {
	bun.BaseModel `bun:"table:order_lines"`

	ID       int64  `bun:"id,pk,autoincrement"`
	OrderID  int64  `bun:"order_id"`
	Order    *Order `bun:"rel:belongs-to,join:order_id=id"`
	SKU      string `bun:"sku"`
	Quantity int    `bun:"quantity"`
}

// Category is self referencing and relies on default naming.
type Category struct {
	ID       int64
	Name     string
	ParentID int64     `bun:"parent_id"`
	Parent   *Category `bun:"rel:belongs-to,join:parent_id=id"`
}

// Tag uses client generated UUID keys.
type Tag struct {
	ID    string `bun:",pk,uuid"`
	Label string
}

// Country uses an application assigned key.
type Country struct {
	bun.BaseModel `bun:"table:countries"`

	Code string `bun:"code,pk"`
	Name string `bun:"name"`
}

// Unmapped has no primary key and cannot be managed.
type Unmapped struct {
	Name string
}

// Schema creates the tables backing the fixture entities on SQLite.
const Schema = `
CREATE TABLE customers (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL DEFAULT '', email TEXT NOT NULL DEFAULT '');
CREATE TABLE orders (id INTEGER PRIMARY KEY AUTOINCREMENT, reference TEXT NOT NULL DEFAULT '', total REAL NOT NULL DEFAULT 0, placed_at TEXT, customer_id INTEGER REFERENCES customers(id));
CREATE TABLE order_lines (id INTEGER PRIMARY KEY AUTOINCREMENT, order_id INTEGER REFERENCES orders(id), sku TEXT NOT NULL DEFAULT '', quantity INTEGER NOT NULL DEFAULT 0);
CREATE TABLE categories (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL DEFAULT '', parent_id INTEGER REFERENCES categories(id));
CREATE TABLE tags (id TEXT PRIMARY KEY, label TEXT NOT NULL DEFAULT '');
CREATE TABLE countries (code TEXT PRIMARY KEY, name TEXT NOT NULL DEFAULT '');
`
