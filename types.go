package pgduct

// PostgreSQL oids for builtin types.
const (
	BoolOID        = 16
	ByteaOID       = 17
	CharOID        = 18
	NameOID        = 19
	Int8OID        = 20
	Int2OID        = 21
	Int4OID        = 23
	TextOID        = 25
	OIDOID         = 26
	JSONOID        = 114
	Float4OID      = 700
	Float8OID      = 701
	UnknownOID     = 705
	BPCharOID      = 1042
	VarcharOID     = 1043
	DateOID        = 1082
	TimeOID        = 1083
	TimestampOID   = 1114
	TimestamptzOID = 1184
	NumericOID     = 1700
	UUIDOID        = 2950
	JSONBOID       = 3802
)

// TypeKind classifies a PostgreSQL type.
type TypeKind int

const (
	KindBase TypeKind = iota
	KindEnum
	KindComposite
	KindDomain
	KindArray
	KindRange
)

func (k TypeKind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindEnum:
		return "enum"
	case KindComposite:
		return "composite"
	case KindDomain:
		return "domain"
	case KindArray:
		return "array"
	case KindRange:
		return "range"
	default:
		return "invalid"
	}
}

// CompositeField is one attribute of a composite type.
type CompositeField struct {
	Name string
	OID  uint32
}

// Type describes a PostgreSQL data type. Builtin scalar types are known
// statically; user defined types are looked up through the system catalogs and
// cached per client (see Client.LoadType).
type Type struct {
	OID  uint32
	Name string
	Kind TypeKind

	// Elem is the element type for arrays and ranges and the base type for
	// domains. Zero otherwise.
	Elem uint32

	// Variants are the labels of an enum type, in sort order.
	Variants []string

	// Fields are the attributes of a composite type, in attribute order.
	Fields []CompositeField
}

var builtinTypes = map[uint32]Type{
	BoolOID:        {OID: BoolOID, Name: "bool", Kind: KindBase},
	ByteaOID:       {OID: ByteaOID, Name: "bytea", Kind: KindBase},
	CharOID:        {OID: CharOID, Name: "char", Kind: KindBase},
	NameOID:        {OID: NameOID, Name: "name", Kind: KindBase},
	Int8OID:        {OID: Int8OID, Name: "int8", Kind: KindBase},
	Int2OID:        {OID: Int2OID, Name: "int2", Kind: KindBase},
	Int4OID:        {OID: Int4OID, Name: "int4", Kind: KindBase},
	TextOID:        {OID: TextOID, Name: "text", Kind: KindBase},
	OIDOID:         {OID: OIDOID, Name: "oid", Kind: KindBase},
	JSONOID:        {OID: JSONOID, Name: "json", Kind: KindBase},
	Float4OID:      {OID: Float4OID, Name: "float4", Kind: KindBase},
	Float8OID:      {OID: Float8OID, Name: "float8", Kind: KindBase},
	UnknownOID:     {OID: UnknownOID, Name: "unknown", Kind: KindBase},
	BPCharOID:      {OID: BPCharOID, Name: "bpchar", Kind: KindBase},
	VarcharOID:     {OID: VarcharOID, Name: "varchar", Kind: KindBase},
	DateOID:        {OID: DateOID, Name: "date", Kind: KindBase},
	TimeOID:        {OID: TimeOID, Name: "time", Kind: KindBase},
	TimestampOID:   {OID: TimestampOID, Name: "timestamp", Kind: KindBase},
	TimestamptzOID: {OID: TimestamptzOID, Name: "timestamptz", Kind: KindBase},
	NumericOID:     {OID: NumericOID, Name: "numeric", Kind: KindBase},
	UUIDOID:        {OID: UUIDOID, Name: "uuid", Kind: KindBase},
	JSONBOID:       {OID: JSONBOID, Name: "jsonb", Kind: KindBase},
}

// builtinType returns the statically known Type for oid, if any.
func builtinType(oid uint32) (Type, bool) {
	t, ok := builtinTypes[oid]
	return t, ok
}

// System catalog queries used to resolve a non-builtin type. They are prepared
// lazily, once per connection, and the statements are held in fixed cache slots.
const (
	typeinfoQuery = `SELECT t.typname, t.typtype, t.typelem, r.rngsubtype, t.typbasetype, t.typrelid
FROM pg_catalog.pg_type t
LEFT OUTER JOIN pg_catalog.pg_range r ON r.rngtypid = t.oid
WHERE t.oid = $1`

	typeinfoEnumQuery = `SELECT enumlabel
FROM pg_catalog.pg_enum
WHERE enumtypid = $1
ORDER BY enumsortorder`

	typeinfoCompositeQuery = `SELECT attname, atttypid
FROM pg_catalog.pg_attribute
WHERE attrelid = $1 AND NOT attisdropped AND attnum > 0
ORDER BY attnum`
)
