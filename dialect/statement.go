package dialect

// Name is a possibly schema qualified object name.
type Name struct {
	Schema string
	Name   string
}

// N returns an unqualified Name.
func N(name string) Name { return Name{Name: name} }

// Expr is a raw SQL expression which is rendered without quoting.
type Expr string

// NextVal renders the next value of a sequence.
type NextVal struct{ Sequence Name }

// CurrVal renders the current value of a sequence.
type CurrVal struct{ Sequence Name }

// A Statement is a database independent description of a single operation.
type Statement interface {
	statement()
}

// ColumnDef describes a column as part of CreateTable or AddColumn.
type ColumnDef struct {
	Name          string
	Type          string
	NotNull       bool
	PrimaryKey    bool
	AutoIncrement bool
	Unique        bool
	UniqueName    string
	// Default is rendered with Literal; nil means no default.
	Default    interface{}
	Check      string
	References *Reference
	Remarks    string
}

// Reference is an inline foreign key of a column.
type Reference struct {
	Name     string
	Table    Name
	Columns  []string
	OnDelete string
}

// IndexColumn is a column of an index.
type IndexColumn struct {
	Name       string
	Descending bool
	// Computed columns are expressions and rendered verbatim.
	Computed bool
}

// Assignment is a single SET clause of an Update.
type Assignment struct {
	Column string
	Value  interface{}
}

type (
	CreateTable struct {
		Table          Name
		Columns        []ColumnDef
		PrimaryKeyName string
		IfNotExists    bool
		Remarks        string
		Tablespace     string
	}
	DropTable struct {
		Table    Name
		Cascade  bool
		IfExists bool
	}
	RenameTable struct {
		Table   Name
		NewName string
	}
	SetTableRemarks struct {
		Table   Name
		Remarks string
	}
	AddColumn struct {
		Table  Name
		Column ColumnDef
		After  string
		First  bool
	}
	DropColumn struct {
		Table  Name
		Column string
	}
	RenameColumn struct {
		Table   Name
		Column  string
		NewName string
	}
	SetColumnRemarks struct {
		Table   Name
		Column  string
		Type    string
		Remarks string
	}
	ModifyDataType struct {
		Table  Name
		Column string
		Type   string
	}
	// SetNullable adds or drops a not null constraint. MySQL requires Type.
	SetNullable struct {
		Table          Name
		Column         string
		Type           string
		Nullable       bool
		ConstraintName string
	}
	AddDefault struct {
		Table  Name
		Column string
		Type   string
		Value  interface{}
	}
	DropDefault struct {
		Table  Name
		Column string
	}
	CreateIndex struct {
		Table       Name
		Name        string
		Columns     []IndexColumn
		Unique      bool
		IfNotExists bool
	}
	DropIndex struct {
		Table Name
		Name  string
	}
	AddPrimaryKey struct {
		Table   Name
		Name    string
		Columns []string
	}
	DropPrimaryKey struct {
		Table Name
		Name  string
	}
	AddUnique struct {
		Table   Name
		Name    string
		Columns []string
	}
	DropUnique struct {
		Table Name
		Name  string
	}
	AddForeignKey struct {
		Table             Name
		Name              string
		Columns           []string
		Referenced        Name
		ReferencedColumns []string
		OnDelete          string
		OnUpdate          string
		Deferrable        bool
		InitiallyDeferred bool
	}
	DropForeignKey struct {
		Table Name
		Name  string
	}
	CreateView struct {
		View    Name
		Query   string
		Replace bool
	}
	DropView struct {
		View     Name
		IfExists bool
	}
	RenameView struct {
		View    Name
		NewName string
	}
	CreateSequence struct {
		Sequence  Name
		Start     *int64
		Increment *int64
		MinValue  *int64
		MaxValue  *int64
		Cycle     bool
	}
	AlterSequence struct {
		Sequence  Name
		Increment *int64
		MinValue  *int64
		MaxValue  *int64
		Cycle     *bool
	}
	DropSequence struct {
		Sequence Name
	}
	RenameSequence struct {
		Sequence Name
		NewName  string
	}
	Insert struct {
		Table   Name
		Columns []string
		Values  []interface{}
	}
	Update struct {
		Table Name
		Set   []Assignment
		Where string
	}
	Delete struct {
		Table Name
		Where string
	}
	// Raw is passed through unchanged.
	Raw struct {
		SQL string
	}
)

func (*CreateTable) statement()      {}
func (*DropTable) statement()        {}
func (*RenameTable) statement()      {}
func (*SetTableRemarks) statement()  {}
func (*AddColumn) statement()        {}
func (*DropColumn) statement()       {}
func (*RenameColumn) statement()     {}
func (*SetColumnRemarks) statement() {}
func (*ModifyDataType) statement()   {}
func (*SetNullable) statement()      {}
func (*AddDefault) statement()       {}
func (*DropDefault) statement()      {}
func (*CreateIndex) statement()      {}
func (*DropIndex) statement()        {}
func (*AddPrimaryKey) statement()    {}
func (*DropPrimaryKey) statement()   {}
func (*AddUnique) statement()        {}
func (*DropUnique) statement()       {}
func (*AddForeignKey) statement()    {}
func (*DropForeignKey) statement()   {}
func (*CreateView) statement()       {}
func (*DropView) statement()         {}
func (*RenameView) statement()       {}
func (*CreateSequence) statement()   {}
func (*AlterSequence) statement()    {}
func (*DropSequence) statement()     {}
func (*RenameSequence) statement()   {}
func (*Insert) statement()           {}
func (*Update) statement()           {}
func (*Delete) statement()           {}
func (*Raw) statement()              {}
