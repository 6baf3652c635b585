package shell

import (
	"fmt"
	"strings"
)

// Entry is one fake directory listing entry. The SFTP adapter reuses
// the same fabricated filesystem the shell shows.
type Entry struct {
	Name string
	Mode string
	Size int64
	Dir  bool
}

// Listing returns directory entries for the paths bots poke at.
// Unknown directories read as empty rather than erroring, which is
// what a just-provisioned box would look like.
func Listing(dir, username string) []Entry {
	switch dir {
	case "/":
		return []Entry{
			{"bin", "drwxr-xr-x", 4096, true},
			{"boot", "drwxr-xr-x", 4096, true},
			{"dev", "drwxr-xr-x", 3120, true},
			{"etc", "drwxr-xr-x", 4096, true},
			{"home", "drwxr-xr-x", 4096, true},
			{"lib", "drwxr-xr-x", 4096, true},
			{"opt", "drwxr-xr-x", 4096, true},
			{"proc", "dr-xr-xr-x", 0, true},
			{"root", "drwx------", 4096, true},
			{"tmp", "drwxrwxrwt", 4096, true},
			{"usr", "drwxr-xr-x", 4096, true},
			{"var", "drwxr-xr-x", 4096, true},
		}
	case "/etc":
		return []Entry{
			{"hostname", "-rw-r--r--", 6, false},
			{"hosts", "-rw-r--r--", 221, false},
			{"passwd", "-rw-r--r--", 1204, false},
			{"shadow", "-rw-r-----", 890, false},
			{"ssh", "drwxr-xr-x", 4096, true},
		}
	case "/tmp", "/var", "/opt":
		return nil
	case "/home":
		return []Entry{{username, "drwxr-xr-x", 4096, true}}
	}
	if strings.HasPrefix(dir, "/home/") || dir == "/root" {
		return []Entry{
			{".bash_history", "-rw-------", 187, false},
			{".bashrc", "-rw-r--r--", 3526, false},
			{".profile", "-rw-r--r--", 807, false},
			{".ssh", "drwx------", 4096, true},
		}
	}
	return nil
}

// IsDir reports whether the fake filesystem treats path as a
// directory.
func IsDir(path, username string) bool {
	if path == "/" {
		return true
	}
	parent, name := splitPath(path)
	for _, e := range Listing(parent, username) {
		if e.Name == name {
			return e.Dir
		}
	}
	// Directories we list into but whose parents hide them.
	return Listing(path, username) != nil
}

func splitPath(p string) (dir, name string) {
	p = strings.TrimRight(p, "/")
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/", strings.TrimPrefix(p, "/")
	}
	return p[:i], p[i+1:]
}

// Restricted reports whether reads of path are always denied. The
// file exists in listings but never yields content.
func Restricted(path string) bool {
	switch path {
	case "/etc/shadow", "/etc/sudoers":
		return true
	}
	return false
}

// FileContent returns fake file content for well-known paths.
func FileContent(path, username string, uid int, home string) (string, bool) {
	switch path {
	case "/etc/hostname":
		return "srv01\r\n", true
	case "/etc/passwd":
		return passwdContent(username, uid, home), true
	case "/etc/hosts":
		return "127.0.0.1\tlocalhost\r\n127.0.1.1\tsrv01\r\n", true
	case "/proc/version":
		return "Linux version 5.10.0-21-amd64 (debian-kernel@lists.debian.org) " +
			"(gcc-10 (Debian 10.2.1-6) 10.2.1 20210110) #1 SMP Debian 5.10.162-1 (2023-01-21)\r\n", true
	case "/proc/cpuinfo":
		return cpuinfoContent, true
	case home + "/.bash_history", "/root/.bash_history":
		return "ls\r\ncd /var/www\r\nexit\r\n", true
	}
	return "", false
}

func passwdContent(username string, uid int, home string) string {
	var b strings.Builder
	b.WriteString("root:x:0:0:root:/root:/bin/bash\r\n")
	b.WriteString("daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin\r\n")
	b.WriteString("bin:x:2:2:bin:/bin:/usr/sbin/nologin\r\n")
	b.WriteString("sys:x:3:3:sys:/dev:/usr/sbin/nologin\r\n")
	b.WriteString("www-data:x:33:33:www-data:/var/www:/usr/sbin/nologin\r\n")
	b.WriteString("sshd:x:105:65534::/run/sshd:/usr/sbin/nologin\r\n")
	if username != "root" {
		fmt.Fprintf(&b, "%s:x:%d:%d:%s:%s:/bin/bash\r\n", username, uid, uid, username, home)
	}
	return b.String()
}

const cpuinfoContent = "processor\t: 0\r\n" +
	"vendor_id\t: GenuineIntel\r\n" +
	"model name\t: Intel(R) Xeon(R) CPU E5-2680 v3 @ 2.50GHz\r\n" +
	"cpu MHz\t\t: 2494.140\r\n" +
	"cache size\t: 30720 KB\r\n"
