package policy

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Account is one entry of the system identity database.
type Account struct {
	Name  string
	UID   uint32
	GID   uint32
	Home  string
	Shell string
}

// Store resolves account names against the identity database.
type Store interface {
	Lookup(name string) (Account, error)
}

// ErrUnknownAccount marks a name absent from the identity database.
var ErrUnknownAccount = errors.New("unknown account")

// Passwd is a Store over a passwd(5) file. os/user hides the login shell,
// which the user-policy check needs, so the file is read directly.
type Passwd struct {
	accounts map[string]Account
}

const passwdPath = "/etc/passwd"

// OpenPasswd parses the passwd file at path, or /etc/passwd when empty.
// Malformed lines are skipped, matching getent behavior.
func OpenPasswd(path string) (*Passwd, error) {
	if path == "" {
		path = passwdPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identity database: %w", err)
	}
	defer f.Close()

	p := &Passwd{accounts: make(map[string]Account)}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// name:password:uid:gid:gecos:home:shell
		fields := strings.Split(line, ":")
		if len(fields) < 7 || fields[0] == "" {
			continue
		}
		uid, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		gid, err := strconv.ParseUint(fields[3], 10, 32)
		if err != nil {
			continue
		}
		p.accounts[fields[0]] = Account{
			Name:  fields[0],
			UID:   uint32(uid),
			GID:   uint32(gid),
			Home:  fields[5],
			Shell: strings.TrimSpace(fields[6]),
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read identity database: %w", err)
	}
	return p, nil
}

func (p *Passwd) Lookup(name string) (Account, error) {
	a, ok := p.accounts[name]
	if !ok {
		return Account{}, fmt.Errorf("%q: %w", name, ErrUnknownAccount)
	}
	return a, nil
}

// LookupUID resolves a numeric uid back to its account. Site discovery needs
// this direction: the directory stat yields a uid, the registry wants a name.
func (p *Passwd) LookupUID(uid uint32) (Account, error) {
	for _, a := range p.accounts {
		if a.UID == uid {
			return a, nil
		}
	}
	return Account{}, fmt.Errorf("uid %d: %w", uid, ErrUnknownAccount)
}
