/*
 * Hivepot
 * Copyright (C) 2024  Hivepot Contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package srv

import (
	"fmt"
	"strings"
	"time"
)

const shellPrompt = "root@honeypot:~# "

// shellBanner is what a bot sees right after its shell request is
// granted. The last-login line carries the bot's own IP, which some
// scripts parse.
func shellBanner(ip string) string {
	lastLogin := time.Now().UTC().Add(-37 * time.Minute).Format("Mon Jan  2 15:04:05 2006")
	return "Welcome to Ubuntu 22.04.3 LTS (GNU/Linux 5.15.0-91-generic x86_64)\r\n" +
		"\r\n" +
		" * Documentation:  https://help.ubuntu.com\r\n" +
		" * Management:     https://landscape.canonical.com\r\n" +
		" * Support:        https://ubuntu.com/advantage\r\n" +
		"\r\n" +
		fmt.Sprintf("Last login: %v from %v\r\n", lastLogin, ip)
}

// simulateCommand synthesizes the output of one shell command line. The
// line is trimmed, lowercased and dispatched on its first token; the
// second return is true when the command ends the session.
func simulateCommand(raw string) (string, bool) {
	line := strings.ToLower(strings.TrimSpace(raw))
	if line == "" {
		return "", false
	}
	fields := strings.Fields(line)

	switch fields[0] {
	case "exit", "quit", "logout":
		return "", true
	case "whoami":
		return "root\r\n", false
	case "id":
		return "uid=0(root) gid=0(root) groups=0(root)\r\n", false
	case "pwd":
		return "/root\r\n", false
	case "hostname":
		return "honeypot\r\n", false
	case "uname":
		if strings.Contains(line, "-a") {
			return "Linux honeypot 5.15.0-91-generic #101-Ubuntu SMP Tue Nov 14 13:30:08 UTC 2023 x86_64 x86_64 x86_64 GNU/Linux\r\n", false
		}
		return "Linux\r\n", false
	case "uptime":
		return " 14:23:01 up 47 days,  3:12,  1 user,  load average: 0.08, 0.03, 0.01\r\n", false
	case "w":
		return " 14:23:01 up 47 days,  3:12,  1 user,  load average: 0.08, 0.03, 0.01\r\n" +
			"USER     TTY      FROM             LOGIN@   IDLE   JCPU   PCPU WHAT\r\n" +
			"root     pts/0    10.0.0.5         13:46    0.00s  0.04s  0.00s w\r\n", false
	case "ls":
		return simulateLS(line), false
	case "cat":
		return simulateCat(fields), false
	case "ps":
		return "  PID TTY          TIME CMD\r\n" +
			"    1 ?        00:00:04 systemd\r\n" +
			"  412 ?        00:00:00 sshd\r\n" +
			" 1337 pts/0    00:00:00 bash\r\n" +
			" 1402 pts/0    00:00:00 ps\r\n", false
	case "ifconfig", "ip":
		return "eth0: flags=4163<UP,BROADCAST,RUNNING,MULTICAST>  mtu 1500\r\n" +
			"        inet 10.0.0.12  netmask 255.255.255.0  broadcast 10.0.0.255\r\n" +
			"        ether 02:42:0a:00:00:0c  txqueuelen 1000  (Ethernet)\r\n" +
			"        RX packets 4821342  bytes 1240874211 (1.2 GB)\r\n" +
			"        TX packets 2104522  bytes 381204410 (381.2 MB)\r\n", false
	case "cd":
		return "", false
	case "echo":
		_, rest, _ := strings.Cut(line, " ")
		return rest + "\r\n", false
	case "history":
		return "    1  ls\r\n    2  cat /etc/passwd\r\n    3  uname -a\r\n    4  history\r\n", false
	case "env", "printenv":
		return "SHELL=/bin/bash\r\nPWD=/root\r\nLOGNAME=root\r\nHOME=/root\r\n" +
			"LANG=C.UTF-8\r\nUSER=root\r\nPATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin\r\n", false
	case "help":
		return "GNU bash, version 5.1.16(1)-release (x86_64-pc-linux-gnu)\r\n" +
			"These shell commands are defined internally.  Type `help' to see this list.\r\n", false
	default:
		return fmt.Sprintf("bash: %v: command not found\r\n", fields[0]), false
	}
}

func simulateLS(line string) string {
	long := strings.Contains(line, "-la") || strings.Contains(line, "-al")
	if strings.Contains(line, "/etc") {
		return "adduser.conf  bash.bashrc  crontab  fstab  group  hostname  hosts\r\n" +
			"issue  machine-id  os-release  passwd  shadow  ssh  sudoers  systemd\r\n"
	}
	if long {
		return "total 28\r\n" +
			"drwx------  4 root root 4096 Nov 21 09:14 .\r\n" +
			"drwxr-xr-x 19 root root 4096 Aug  3  2023 ..\r\n" +
			"-rw-------  1 root root  642 Nov 21 09:14 .bash_history\r\n" +
			"-rw-r--r--  1 root root 3106 Oct 15  2021 .bashrc\r\n" +
			"-rw-r--r--  1 root root  161 Jul  9  2019 .profile\r\n" +
			"drwx------  2 root root 4096 Aug  3  2023 .ssh\r\n" +
			"drwxr-xr-x  3 root root 4096 Aug  3  2023 snap\r\n"
	}
	return "snap\r\n"
}

func simulateCat(fields []string) string {
	if len(fields) < 2 {
		return ""
	}
	switch fields[1] {
	case "/etc/passwd":
		return "root:x:0:0:root:/root:/bin/bash\r\n" +
			"daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin\r\n" +
			"bin:x:2:2:bin:/bin:/usr/sbin/nologin\r\n" +
			"sys:x:3:3:sys:/dev:/usr/sbin/nologin\r\n" +
			"sync:x:4:65534:sync:/bin:/bin/sync\r\n" +
			"www-data:x:33:33:www-data:/var/www:/usr/sbin/nologin\r\n" +
			"sshd:x:105:65534::/run/sshd:/usr/sbin/nologin\r\n" +
			"ubuntu:x:1000:1000:Ubuntu:/home/ubuntu:/bin/bash\r\n"
	case "/etc/shadow":
		return "cat: /etc/shadow: Permission denied\r\n"
	default:
		return fmt.Sprintf("cat: %v: No such file or directory\r\n", fields[1])
	}
}
