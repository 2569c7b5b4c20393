package dynamo

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mesh-intelligence/metashelf/internal/query"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// decodeItem converts an item to a record of e. Attributes the container
// does not declare are dropped; declared attributes missing from the item
// decode as nil.
func decodeItem(e *types.MetaEntity, item map[string]ddbtypes.AttributeValue) (types.Record, error) {
	rec := make(types.Record, len(e.Attributes))
	for _, a := range e.Attributes {
		av, ok := item[a.PropName]
		if !ok {
			rec[a.PropName] = nil
			continue
		}
		v, err := decodeValue(a.DataType, av)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", a.PropName, err)
		}
		rec[a.PropName] = v
	}
	return rec, nil
}

// decodeValue reads numbers from their decimal text so int64 values keep
// full precision, then coerces to dt.
func decodeValue(dt types.DataType, av ddbtypes.AttributeValue) (any, error) {
	var raw any
	switch v := av.(type) {
	case *ddbtypes.AttributeValueMemberNULL:
		return nil, nil
	case *ddbtypes.AttributeValueMemberN:
		raw = v.Value
	case *ddbtypes.AttributeValueMemberS:
		raw = v.Value
	case *ddbtypes.AttributeValueMemberB:
		raw = v.Value
	case *ddbtypes.AttributeValueMemberBOOL:
		raw = v.Value
	default:
		if err := attributevalue.Unmarshal(av, &raw); err != nil {
			return nil, err
		}
	}
	return query.Coerce(dt, raw)
}
