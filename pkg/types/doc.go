// Package types defines the metadata model, override records, query types,
// the Manager and Store interfaces, and the error taxonomy for metashelf.
//
// A MetaSchema describes the containers (tables, collections) of one model
// and the attributes of each container. Stores infer a raw schema through
// SchemaLoader; EntityOverride records reshape it; the Manager resolves the
// merged schema once per model id and serves CRUD operations against it.
package types
