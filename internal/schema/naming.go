package schema

import (
	"strings"

	"github.com/go-openapi/inflect"
)

// TypeNameFor derives a source-type token from a container id:
// "order_lines" becomes "OrderLine".
func TypeNameFor(containerID string) string {
	if baseName(containerID) == "" {
		return ""
	}
	return inflect.Typeify(baseName(containerID))
}

// DisplayName derives a singular display name: "order_lines" becomes
// "Order line".
func DisplayName(containerID string) string {
	if baseName(containerID) == "" {
		return ""
	}
	return inflect.Humanize(inflect.Singularize(baseName(containerID)))
}

// DisplayNamePlural derives a plural display name: "order_lines" becomes
// "Order lines".
func DisplayNamePlural(containerID string) string {
	if baseName(containerID) == "" {
		return ""
	}
	return inflect.Humanize(inflect.Pluralize(baseName(containerID)))
}

// Caption derives an attribute caption from a property name:
// "unit_price" becomes "Unit price", "createdAt" becomes "Created at".
func Caption(propName string) string {
	if propName == "" {
		return ""
	}
	return inflect.Humanize(inflect.Underscore(propName))
}

// baseName strips a schema qualifier such as "public." from a table name.
func baseName(id string) string {
	if i := strings.LastIndexByte(id, '.'); i >= 0 {
		return id[i+1:]
	}
	return id
}
