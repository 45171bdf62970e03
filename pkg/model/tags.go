package model

import (
	"encoding/json"
	"sort"
)

// Tag is a single resource tag.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tags is an ordered tag set with unique keys, sorted by key.
type Tags []Tag

// NewTags builds an ordered tag set from a map.
func NewTags(m map[string]string) Tags {
	if len(m) == 0 {
		return nil
	}
	out := make(Tags, 0, len(m))
	for k, v := range m {
		out = append(out, Tag{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Get returns the value for key.
func (t Tags) Get(key string) (string, bool) {
	i := sort.Search(len(t), func(i int) bool { return t[i].Key >= key })
	if i < len(t) && t[i].Key == key {
		return t[i].Value, true
	}
	return "", false
}

// Set returns a copy with key set, keeping order and uniqueness.
func (t Tags) Set(key, value string) Tags {
	m := t.Map()
	m[key] = value
	return NewTags(m)
}

// Map converts to a plain map.
func (t Tags) Map() map[string]string {
	m := make(map[string]string, len(t))
	for _, tag := range t {
		m[tag.Key] = tag.Value
	}
	return m
}

// UnmarshalJSON accepts both the list form and a plain object and normalizes order.
func (t *Tags) UnmarshalJSON(data []byte) error {
	var list []Tag
	if err := json.Unmarshal(data, &list); err == nil {
		m := make(map[string]string, len(list))
		for _, tag := range list {
			m[tag.Key] = tag.Value
		}
		*t = NewTags(m)
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*t = NewTags(m)
	return nil
}
