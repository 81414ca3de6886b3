package filter

import (
	"strconv"
	"strings"
)

/*
Here the Envs used in the admin filter expressions are defined.
Expressions are typed against these structs, renaming a field breaks saved expressions.
*/

type User struct {
	Id      string
	Email   string
	Name    string
	Role    string
	Premium bool
	Created int64
}

type Post struct {
	Id       string
	Title    string
	Content  string
	Category string
	Author   string
	Likes    int
	Comments int
	Created  int64
	Updated  int64
}

type Message struct {
	Id        string
	Content   string
	Sender    string
	Group     string
	IsRead    bool
	IsReply   bool
	Reactions int
	Created   int64
}

type Stat struct {
	Kind    string
	Period  string
	Metrics map[string]float64
	Created int64
}

// Helpers are the functions available in every expression.
type Helpers struct {
	AsInt    func(string) int64
	AsFloat  func(string) float64
	Lower    func(string) string
	Contains func(string, string) bool
}

type UserEnv struct {
	User
	Helpers
	Now int64
}

type PostEnv struct {
	Post
	Helpers
	Now int64
}

type MessageEnv struct {
	Message
	Helpers
	Now int64
}

type StatEnv struct {
	Stat
	Helpers
	Now int64
}

// AsInt parses v as an int, 0 on error
func AsInt(v string) int64 {
	val, _ := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
	return val
}

// AsFloat parses v as a float64, 0.0 on error
func AsFloat(v string) float64 {
	val, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return val
}

// Contains is a case-insensitive substring test
func Contains(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

var helpers = Helpers{
	AsInt:    AsInt,
	AsFloat:  AsFloat,
	Lower:    strings.ToLower,
	Contains: Contains,
}
