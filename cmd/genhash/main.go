package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// genhash prints a bcrypt hash and a seed statement for admin_users.
func main() {
	username := flag.String("user", "owner", "admin username")
	rights := flag.String("rights", "restrictions,notices", "comma separated rights")
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	flag.Parse()

	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(os.Stderr, "read password:", err)
		os.Exit(1)
	}
	password := strings.TrimRight(line, "\r\n")
	if len(password) < 8 {
		fmt.Fprintln(os.Stderr, "password must be at least 8 characters")
		os.Exit(1)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), *cost)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash:", err)
		os.Exit(1)
	}
	var quoted []string
	for _, r := range strings.Split(*rights, ",") {
		if r = strings.TrimSpace(r); r != "" {
			quoted = append(quoted, "'"+r+"'")
		}
	}
	fmt.Printf("Hash: %s\n", hash)
	fmt.Printf("INSERT INTO admin_users (username, password_hash, rights) VALUES ('%s', '%s', ARRAY[%s]::text[]);\n",
		strings.ReplaceAll(*username, "'", "''"), hash, strings.Join(quoted, ","))
}
