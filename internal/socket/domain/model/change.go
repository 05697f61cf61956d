package model

// RawChange is a change stream notification as decoded from the store.
type RawChange struct {
	OperationType string                 `bson:"operationType"`
	FullDocument  map[string]interface{} `bson:"fullDocument,omitempty"`
	Namespace     Namespace              `bson:"ns"`
	DocumentKey   map[string]interface{} `bson:"documentKey,omitempty"`
}

// Namespace identifies the database and collection of a change.
type Namespace struct {
	DB   string `bson:"db"`
	Coll string `bson:"coll"`
}
