package systeminfo

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"mythicwp/logger"

	"github.com/shirou/gopsutil/v4/host"
)

// Identity is a numeric owner with its resolved account name. Name is empty
// when the id has no passwd entry.
type Identity struct {
	Name string `json:"name"`
	UID  string `json:"uid"`
	GID  string `json:"gid"`
}

// Fields returns name, uid and gid in report order.
func (i Identity) Fields() []string {
	return []string{i.Name, i.UID, i.GID}
}

type SystemInfo struct {
	Process  Identity `json:"process"`
	Uname    string   `json:"uname"`
	Hostname string   `json:"hostname"`
	Platform string   `json:"platform"`
	Uptime   uint64   `json:"uptime"`
}

// GetSystemInfo collects facts about the running process, kernel and host. Failures
// are logged and leave the affected field empty.
func GetSystemInfo() *SystemInfo {
	sysInfo := &SystemInfo{}

	if id, err := ProcessIdentity(); err != nil {
		logger.Warnf("Failed to gather process identity: %v", err)
	} else {
		sysInfo.Process = id
	}

	if uname, err := Uname(); err != nil {
		logger.Warnf("Failed to gather uname: %v", err)
	} else {
		sysInfo.Uname = uname
	}

	if info, err := host.Info(); err != nil {
		logger.Warnf("Failed to gather host information: %v", err)
	} else {
		sysInfo.Hostname = info.Hostname
		sysInfo.Platform = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
		sysInfo.Uptime = info.Uptime
	}

	return sysInfo
}

// ProcessIdentity returns the effective user of the current process and the
// primary group of that account.
func ProcessIdentity() (Identity, error) {
	uid := effectiveUID()
	id := Identity{UID: strconv.Itoa(uid)}
	if uid < 0 {
		cur, err := user.Current()
		if err != nil {
			return id, err
		}
		return Identity{Name: cur.Username, UID: cur.Uid, GID: cur.Gid}, nil
	}
	u, err := user.LookupId(id.UID)
	if err != nil {
		id.GID = strconv.Itoa(os.Getegid())
		return id, nil
	}
	id.Name = u.Username
	id.GID = u.Gid
	return id, nil
}

// DirOwner returns the owning user and group of path.
func DirOwner(path string) (Identity, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Identity{}, err
	}
	uid, gid, ok := ownerIDs(info)
	if !ok {
		return Identity{}, fmt.Errorf("ownership unavailable for %s", path)
	}
	id := Identity{UID: uid, GID: gid}
	if u, err := user.LookupId(uid); err == nil {
		id.Name = u.Username
	}
	return id, nil
}
