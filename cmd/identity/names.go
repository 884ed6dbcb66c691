package identity

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"
)

var (
	nameAdjectives = []string{
		"brave", "calm", "clever", "cosmic", "curious", "daring", "eager", "fancy",
		"gentle", "happy", "humble", "jolly", "kind", "lively", "lucky", "mellow",
		"nimble", "proud", "quiet", "rapid", "shy", "silent", "sleepy", "swift",
		"tidy", "vivid", "witty", "zesty",
	}
	nameColors = []string{
		"amber", "azure", "beige", "black", "blue", "bronze", "coral", "crimson",
		"cyan", "gold", "gray", "green", "indigo", "ivory", "lime", "magenta",
		"olive", "orange", "pink", "plum", "red", "silver", "teal", "violet", "white",
	}
	nameAnimals = []string{
		"badger", "bat", "bear", "beaver", "bison", "camel", "cat", "crane", "crow",
		"deer", "dolphin", "eagle", "falcon", "ferret", "fox", "gecko", "hare",
		"heron", "koala", "lemur", "lynx", "moose", "otter", "owl", "panda",
		"raven", "seal", "shark", "sloth", "swan", "tiger", "wolf", "yak",
	}
)

// GenerateName returns a display name of the form adjective-color-animal that
// taken does not report as in use. Collisions are retried by appending a short
// random suffix until the name is free.
func GenerateName(taken func(string) bool) string {
	base := strings.Join([]string{pick(nameAdjectives), pick(nameColors), pick(nameAnimals)}, "-")
	name := base
	for taken != nil && taken(name) {
		name = base + "-" + shortSuffix()
	}
	return name
}

func pick(words []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return words[0]
	}
	return words[n.Int64()]
}

func shortSuffix() string {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return "0000"
	}
	return hex.EncodeToString(b)
}
