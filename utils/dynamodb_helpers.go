package utils

import (
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ExtractString safely extracts a string from a DynamoDB attribute map
func ExtractString(item map[string]types.AttributeValue, field string) string {
	if attr, ok := item[field]; ok {
		if v, ok := attr.(*types.AttributeValueMemberS); ok {
			return v.Value
		}
	}
	return ""
}

func StringValue(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func NumberValue(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// StringKey builds a single-attribute string key
func StringKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{name: StringValue(value)}
}
