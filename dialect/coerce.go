package dialect

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Type hints understood by the built-in registries.
const (
	HintJSON    = "json"
	HintJSONB   = "jsonb"
	HintUUID    = "uuid"
	HintMsgpack = "msgpack"
)

var errInvalidJSON = errors.New("invalid JSON document")

// Document is a JSON value bound with an explicit SQL type, so the store
// treats it as json or jsonb rather than opaque text.
type Document struct {
	Type string
	Raw  json.RawMessage
}

// Value implements the driver.Valuer interface.
func (d Document) Value() (driver.Value, error) {
	if d.Raw == nil {
		return nil, nil
	}
	return string(d.Raw), nil
}

// String returns the JSON text of the document.
func (d Document) String() string { return string(d.Raw) }

// Standard returns the base registry: ? placeholders, LastInsertId keys,
// and the scalar coercions every dialect shares.
func Standard() *Registry {
	return New(
		WithSerializer(HintJSON, SerializerFunc(serializeJSON)),
		WithSerializer(HintUUID, SerializerFunc(serializeUUID)),
		WithSerializer(HintMsgpack, SerializerFunc(serializeMsgpack)),
		DeserializerFor(deserializeUUID),
		DeserializerFor(deserializeRawJSON),
		DeserializerFor(deserializeJSON[map[string]any]),
		DeserializerFor(deserializeJSON[[]any]),
		DeserializerFor(deserializeTime),
	)
}

// PostgresRegistry returns the registry for PostgreSQL: $n placeholders,
// RETURNING keys, and json/jsonb document serializers.
func PostgresRegistry() *Registry {
	return Standard().With(
		WithName(Postgres),
		WithPlaceholder(Dollar),
		WithKeys(Returning),
		WithSerializer(HintJSON, documentSerializer(HintJSON)),
		WithSerializer(HintJSONB, documentSerializer(HintJSONB)),
	)
}

// MySQLRegistry returns the registry for MySQL and MariaDB.
func MySQLRegistry() *Registry {
	return Standard().With(
		WithName(MySQL),
		WithSerializer(HintJSONB, SerializerFunc(serializeJSON)),
	)
}

// SQLiteRegistry returns the registry for SQLite.
func SQLiteRegistry() *Registry {
	return Standard().With(
		WithName(SQLite),
		WithKeys(Returning),
		WithSerializer(HintJSONB, SerializerFunc(serializeJSON)),
	)
}

func documentSerializer(typ string) Serializer {
	return SerializerFunc(func(v any) (any, error) {
		raw, err := marshalJSON(v)
		if err != nil {
			return nil, err
		}
		return Document{Type: typ, Raw: raw}, nil
	})
}

func serializeJSON(v any) (any, error) {
	raw, err := marshalJSON(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// marshalJSON returns v as JSON text. Strings and byte slices are taken
// to be JSON already.
func marshalJSON(v any) (json.RawMessage, error) {
	switch v := v.(type) {
	case Document:
		return v.Raw, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, errInvalidJSON
		}
		return v, nil
	case string:
		if !json.Valid([]byte(v)) {
			return nil, errInvalidJSON
		}
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}

func serializeUUID(v any) (any, error) {
	switch v := v.(type) {
	case uuid.UUID:
		return v.String(), nil
	case [16]byte:
		return uuid.UUID(v).String(), nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	case []byte:
		id, err := parseUUIDBytes(v)
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	default:
		return nil, fmt.Errorf("unsupported uuid value %T", v)
	}
}

func serializeMsgpack(v any) (any, error) {
	return msgpack.Marshal(v)
}

func deserializeUUID(raw any) (uuid.UUID, error) {
	switch v := raw.(type) {
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case string:
		return uuid.Parse(v)
	case []byte:
		return parseUUIDBytes(v)
	default:
		return uuid.Nil, fmt.Errorf("unsupported uuid value %T", raw)
	}
}

func parseUUIDBytes(b []byte) (uuid.UUID, error) {
	if len(b) == 16 {
		return uuid.FromBytes(b)
	}
	return uuid.ParseBytes(b)
}

func deserializeRawJSON(raw any) (json.RawMessage, error) {
	switch v := raw.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(append([]byte(nil), v...)), nil
	case string:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(raw)
	}
}

func deserializeJSON[T any](raw any) (T, error) {
	var v T
	switch r := raw.(type) {
	case T:
		return r, nil
	case []byte:
		err := json.Unmarshal(r, &v)
		return v, err
	case string:
		err := json.Unmarshal([]byte(r), &v)
		return v, err
	default:
		return v, fmt.Errorf("unsupported JSON value %T", raw)
	}
}

// timeLayouts are the text forms drivers commonly return for timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

func deserializeTime(raw any) (time.Time, error) {
	var s string
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported time value %T", raw)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}
