package models

// Default column keys of an order sheet.
const (
	KeyName      = "品名"
	KeyQuantity  = "数量"
	KeySpec      = "规格"
	KeyUnitPrice = "单价"
	KeyTotal     = "金额"
)

// DefaultTitle is used for tables created without a title.
const DefaultTitle = "新建表格"

// ImportedTitle names tables synthesized from a row for an unknown table id.
const ImportedTitle = "imported"

// DefaultSchema returns the five-column order schema: name, quantity, spec,
// unit price and total.
func DefaultSchema() Schema {
	return Schema{
		{Key: KeyName, Title: KeyName, Type: ColumnText},
		{Key: KeyQuantity, Title: KeyQuantity, Type: ColumnNumber},
		{Key: KeySpec, Title: KeySpec, Type: ColumnText},
		{Key: KeyUnitPrice, Title: KeyUnitPrice, Type: ColumnNumber},
		{Key: KeyTotal, Title: KeyTotal, Type: ColumnNumber},
	}
}

// DefaultValue is the empty cell value for a column type.
func DefaultValue(t ColumnType) any {
	if t == ColumnNumber {
		return 0
	}
	return ""
}

// DefaultRowFor builds a row holding the default value of every column.
func DefaultRowFor(schema Schema) Row {
	row := make(Row, len(schema))
	for _, c := range schema {
		row[c.Key] = DefaultValue(c.Type)
	}
	return row
}
