// Package fs is the handle to a mounted Minix file system. Mount returns a
// FileSystem through which all inode, block and directory operations on the
// device go.
package fs

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EVAcacia/minixfs/bcache"
	"github.com/EVAcacia/minixfs/common"
	"github.com/EVAcacia/minixfs/config"
	"github.com/EVAcacia/minixfs/inode"
	"github.com/EVAcacia/minixfs/super"
)

type Options struct {
	ReadOnly          bool
	CacheSlots        int           // blocks held by the cache, 64 when zero
	InodeSlots        int           // inodes in use at once, 0 for no limit
	WritebackInterval time.Duration // 0 disables background writeback
	Logger            *slog.Logger
	Now               func() time.Time // clock for inode timestamps
}

// OptionsFromConfig builds mount options from the runtime configuration.
func OptionsFromConfig(c *config.Config, log *slog.Logger) Options {
	return Options{
		ReadOnly:          c.ReadOnly,
		CacheSlots:        c.CacheSlots,
		InodeSlots:        c.InodeSlots,
		WritebackInterval: c.WritebackInterval,
		Logger:            log,
	}
}

type FileSystem struct {
	ID uuid.UUID // identifies this mount in the logs

	dev    common.BlockDevice
	cache  *bcache.LRUCache
	super  *super.Superblock
	itable *inode.Table
	info   *common.DeviceInfo
	root   *common.Inode // held for the life of the mount

	log *slog.Logger
	now func() time.Time

	m         sync.Mutex
	unmounted bool
}

// Mount mounts the Minix file system on dev. dev stays owned by the caller
// and is not closed by Unmount. A failed mount releases everything it
// acquired and leaves the on-disk mount state as it found it.
func Mount(dev common.BlockDevice, opts Options) (*FileSystem, error) {
	id := uuid.New()
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("mount", id.String())
	if name, ok := dev.(interface{ Name() string }); ok {
		log = log.With("device", name.Name())
	}

	sp, v, namelen, err := super.Probe(dev)
	if err != nil {
		log.Warn("mount failed", "err", err)
		return nil, err
	}
	if _, err := super.NewDeviceInfo(sp, v, namelen); err != nil {
		log.Warn("mount failed", "err", err)
		return nil, err
	}

	slots := opts.CacheSlots
	if slots == 0 {
		slots = 64
	}
	cache := bcache.NewLRUCache(dev, int(sp.Block_size), slots, log)

	sb, err := super.Mount(cache, opts.ReadOnly, log)
	if err != nil {
		log.Warn("mount failed", "err", err)
		cache.Close()
		return nil, err
	}

	itable := inode.NewTable(cache, sb.Devinfo, opts.InodeSlots, log)
	root, err := itable.GetInode(common.ROOT_INODE_NUM)
	if err == nil && !root.IsDirectory() {
		itable.PutInode(root)
		err = &common.CorruptSuperblockError{Reason: "root inode is not a directory"}
	}
	if err != nil {
		log.Warn("mount failed", "err", err)
		sb.Unmount()
		cache.Close()
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	cache.StartWriteback(opts.WritebackInterval)
	return &FileSystem{
		ID:     id,
		dev:    dev,
		cache:  cache,
		super:  sb,
		itable: itable,
		info:   sb.Devinfo,
		root:   root,
		log:    log,
		now:    now,
	}, nil
}

func (fs *FileSystem) Devinfo() *common.DeviceInfo { return fs.info }

func (fs *FileSystem) Superblock() *super.Superblock { return fs.super }

func (fs *FileSystem) Cache() *bcache.LRUCache { return fs.cache }

func (fs *FileSystem) InodeTable() *inode.Table { return fs.itable }

func (fs *FileSystem) Statistics() super.Stats {
	return fs.super.Statistics()
}

func (fs *FileSystem) stamp() uint32 {
	return uint32(fs.now().Unix())
}

func (fs *FileSystem) writable() error {
	switch fs.super.State() {
	case super.Mounted:
		return nil
	case super.ReadOnly:
		return common.EROFS
	}
	return fmt.Errorf("file system is %v: %w", fs.super.State(), common.EINVAL)
}

// Sync writes every dirty inode and block and then the bitmaps and the
// superblock.
func (fs *FileSystem) Sync() error {
	if fs.super.State() == super.ReadOnly {
		return nil
	}
	if err := fs.itable.Sync(); err != nil {
		return err
	}
	if err := fs.cache.Flush(); err != nil {
		return err
	}
	return fs.super.Sync(true)
}

// Remount switches between read-only and read-write.
func (fs *FileSystem) Remount(readOnly bool) error {
	if readOnly && fs.super.State() == super.Mounted {
		if err := fs.Sync(); err != nil {
			return err
		}
	}
	return fs.super.Remount(readOnly)
}

// Unmount writes everything back, restores the on-disk mount state and
// releases the cache. It fails with EBUSY while inodes other than the root
// are still in use.
func (fs *FileSystem) Unmount() error {
	fs.m.Lock()
	defer fs.m.Unlock()
	if fs.unmounted {
		return fmt.Errorf("unmount: %w", common.EINVAL)
	}
	if n := fs.itable.InUse(); n > 1 {
		return fmt.Errorf("unmount with %d inodes in use: %w", n-1, common.EBUSY)
	}

	var err error
	if fs.super.State() == super.Mounted {
		err = errors.Join(fs.itable.FlushInode(fs.root, false), fs.itable.Sync(), fs.cache.Flush())
	}
	err = errors.Join(err, fs.itable.PutInode(fs.root))
	if fs.super.State() == super.Mounted {
		err = errors.Join(err, fs.cache.Flush())
	}
	err = errors.Join(err, fs.super.Unmount(), fs.cache.Close())
	fs.unmounted = true

	if err != nil {
		fs.log.Warn("unmount failed", "err", err)
	}
	return err
}
