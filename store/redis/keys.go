package redis

const defaultPrefix = "reportflow:"

// keys builds the Redis key names under one prefix.
type keys struct {
	prefix string
}

// job returns the Hash key of a job: {prefix}job:{id}
func (k keys) job(id string) string { return k.prefix + "job:" + id }

// queue returns the Sorted Set of claimable job IDs: {prefix}queue:{name}
func (k keys) queue(name string) string { return k.prefix + "queue:" + name }

// jobIDs is the Set tracking all job IDs for enumeration.
func (k keys) jobIDs() string { return k.prefix + "job_ids" }

// dlq returns the Hash key of a dead-letter entry: {prefix}dlq:{id}
func (k keys) dlq(id string) string { return k.prefix + "dlq:" + id }

// dlqIndex is the Sorted Set of entry IDs scored by FailedAt.
func (k keys) dlqIndex() string { return k.prefix + "dlq_idx" }

// lock returns the key of a lock. Lock keys already carry the env and
// tenant namespace.
func (k keys) lock(key string) string { return k.prefix + "lock:" + key }

// queues is the Set of queue names that ever received a job.
func (k keys) queues() string { return k.prefix + "queues" }
