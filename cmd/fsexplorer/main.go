// Command fsexplorer inspects and changes the contents of a Minix file
// system image.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/EVAcacia/minixfs/common"
	"github.com/EVAcacia/minixfs/config"
	"github.com/EVAcacia/minixfs/debug"
	"github.com/EVAcacia/minixfs/device"
	"github.com/EVAcacia/minixfs/fs"
	"github.com/EVAcacia/minixfs/inode"
)

func main() {
	imageFlag := &cli.StringFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    "the file system image to explore",
		Required: true,
	}
	app := cli.App{
		Name:  "fsexplorer",
		Usage: "explore a Minix file system image",
		Flags: []cli.Flag{imageFlag},
		Commands: []*cli.Command{{
			Name:   "stat",
			Usage:  "print the superblock and space usage",
			Action: withFS(true, stat),
		}, {
			Name:      "ls",
			Usage:     "list a directory",
			ArgsUsage: "[path]",
			Action: withFS(true, func(fsys *fs.FileSystem, ctx *cli.Context) error {
				return ls(fsys, ctx.Args().First(), os.Stdout)
			}),
		}, {
			Name:      "cat",
			Usage:     "print the contents of a file",
			ArgsUsage: "<path>",
			Action: withFS(true, func(fsys *fs.FileSystem, ctx *cli.Context) error {
				return cat(fsys, ctx.Args().First(), os.Stdout)
			}),
		}, {
			Name:      "put",
			Usage:     "copy a local file into the image",
			ArgsUsage: "<local file> <path>",
			Action:    withFS(false, put),
		}, {
			Name:      "mkdir",
			Usage:     "make a directory",
			ArgsUsage: "<path>",
			Action: withFS(false, func(fsys *fs.FileSystem, ctx *cli.Context) error {
				return fsys.Mkdir(ctx.Args().First(), 0755)
			}),
		}, {
			Name:      "rm",
			Aliases:   []string{"remove"},
			Usage:     "remove a file or an empty directory",
			ArgsUsage: "<path>",
			Action: withFS(false, func(fsys *fs.FileSystem, ctx *cli.Context) error {
				p := ctx.Args().First()
				err := fsys.Unlink(p)
				if errors.Is(err, common.EISDIR) {
					err = fsys.Rmdir(p)
				}
				return err
			}),
		}, {
			Name:      "dump",
			Usage:     "print an inode or a raw block",
			ArgsUsage: "inode <number> | block <number>",
			Action:    withFS(true, dump),
		}, {
			Name:   "shell",
			Usage:  "browse the image interactively",
			Action: withFS(true, shell),
		}},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withFS mounts the image for the duration of a command.
func withFS(readOnly bool, f func(*fs.FileSystem, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		readOnly = readOnly || c.ReadOnly
		logger := c.Logger()

		dev, err := device.NewFileDevice(ctx.String("file"), readOnly)
		if err != nil {
			return err
		}
		defer dev.Close()

		opts := fs.OptionsFromConfig(c, logger)
		opts.ReadOnly = readOnly
		fsys, err := fs.Mount(dev, opts)
		if err != nil {
			return fmt.Errorf("mounting %s: %w", ctx.String("file"), err)
		}

		err = f(fsys, ctx)
		return errors.Join(err, fsys.Unmount())
	}
}

func stat(fsys *fs.FileSystem, ctx *cli.Context) error {
	sb := fsys.Superblock()
	disk := sb.Disk()
	debug.PrintSuperblock(os.Stdout, &disk, fsys.Devinfo())
	st := fsys.Statistics()
	fmt.Printf("blocks: %d total, %d free\n", st.TotalBlocks, st.FreeBlocks)
	fmt.Printf("inodes: %d total, %d free\n", st.TotalInodes, st.FreeInodes)
	return nil
}

func ls(fsys *fs.FileSystem, p string, w io.Writer) error {
	dir, err := fsys.LookupPath(p)
	if err != nil {
		return err
	}
	defer fsys.PutInode(dir)

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		rip, err := fsys.GetInode(e.Inum)
		if err != nil {
			fmt.Fprintf(w, "Failed getting inode: %d\n", e.Inum)
			continue
		}
		fmt.Fprintf(w, "%s %3d %8d %s\n", debug.ModeString(rip.Mode), rip.Nlinks, rip.Size, e.Name)
		fsys.PutInode(rip)
	}
	return nil
}

func cat(fsys *fs.FileSystem, p string, w io.Writer) error {
	f, err := fsys.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, io.NewSectionReader(f, 0, f.Size()))
	return err
}

func put(fsys *fs.FileSystem, ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("usage: put <local file> <path>")
	}
	data, err := os.ReadFile(ctx.Args().Get(0))
	if err != nil {
		return err
	}

	rip, err := fsys.Create(ctx.Args().Get(1), 0644)
	if err != nil {
		return err
	}
	f := fsys.OpenInode(rip)
	if _, err := f.WriteAt(data, 0); err != nil {
		f.Close()
		return err
	}
	return errors.Join(f.Sync(), f.Close())
}

func dump(fsys *fs.FileSystem, ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("usage: dump inode <number> | block <number>")
	}
	n, err := strconv.Atoi(ctx.Args().Get(1))
	if err != nil {
		return err
	}

	info := fsys.Devinfo()
	cache := fsys.Cache()
	switch ctx.Args().Get(0) {
	case "inode":
		d, err := inode.ReadInode(cache, info, n)
		if err != nil {
			return err
		}
		debug.PrintInode(os.Stdout, n, &d)
	case "block":
		btype := common.FULL_DATA_BLOCK
		if n >= info.MapOffset && n < info.Firstdatazone<<info.Scale {
			btype = common.INODE_BLOCK
		}
		bp, err := cache.GetBlock(n, btype, common.NORMAL)
		if err != nil {
			return err
		}
		debug.PrintBlock(os.Stdout, bp, btype, info)
		return cache.PutBlock(bp, btype|common.ONE_SHOT)
	default:
		return fmt.Errorf("unknown dump target %q", ctx.Args().Get(0))
	}
	return nil
}

func shell(fsys *fs.FileSystem, ctx *cli.Context) error {
	fmt.Println("Welcome to the minixfs explorer!")
	fmt.Printf("Attached to %s\n", ctx.String("file"))
	fmt.Println("Enter '?' for a list of commands.")

	pwd := "/"
	buf := bufio.NewReader(os.Stdin)
	for {
		// Print the prompt
		fmt.Printf("%s> ", pwd)

		// Read another line of input from stdin
		read, err := buf.ReadString('\n')
		if err != nil {
			fmt.Print("\n")
			return nil
		}
		tokens := strings.Fields(read)
		if len(tokens) == 0 {
			continue
		}
		arg := pwd
		if len(tokens) > 1 {
			arg = path.Join(pwd, tokens[1])
		}

		switch tokens[0] {
		case "?":
			fmt.Println("Commands:")
			fmt.Println("\t?\thelp")
			fmt.Println("\tcat\tshow file contents")
			fmt.Println("\tcd\tchange directory")
			fmt.Println("\tls\tshow directory listing")
			fmt.Println("\tpwd\tshow current directory")
		case "cat":
			err = cat(fsys, arg, os.Stdout)
		case "cd":
			var rip *common.Inode
			if rip, err = fsys.LookupPath(arg); err == nil {
				if rip.IsDirectory() {
					pwd = arg
				} else {
					err = common.ENOTDIR
				}
				fsys.PutInode(rip)
			}
		case "ls":
			err = ls(fsys, arg, os.Stdout)
		case "pwd":
			fmt.Printf("Current directory is %s\n", pwd)
		default:
			fmt.Printf("%s is not a valid command\n", tokens[0])
		}
		if err != nil {
			fmt.Printf("%s: %s\n", tokens[0], err)
		}
	}
}
