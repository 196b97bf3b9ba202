package pgengine

import "github.com/lib/pq/oid"

// Field describes one column of a ResultSet, as sent in a RowDescription
// message.
type Field struct {
	Name         string
	TableOID     uint32
	ColumnAttrNo int16
	TypeOID      oid.Oid
	TypeSize     int16
	TypeModifier int32
	Format       int16 // 0 = text, 1 = binary
}

// Row is one ordered sequence of decoded field values, one per Field in its
// ResultSet's descriptor list. A value is nil for SQL NULL, or the decoded
// host value (int64, float64, bool or string) otherwise.
type Row []any

// ResultSet is the result of one statement within a query: either a
// row-producing statement (Fields and Rows set, CommandStatus set once the
// CommandComplete arrives) or a statement that produced no rows at all (only
// CommandStatus set).
type ResultSet struct {
	Fields        []Field
	Rows          []Row
	CommandStatus string
}

// Response is the ordered sequence of ResultSets produced by one Execute
// call; a simple query with several semicolon-separated statements produces
// one ResultSet per statement.
type Response []ResultSet
